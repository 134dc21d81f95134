package http

import (
	"encoding/json"
	"errors"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melih/lighthouse-runner/internal/adapters/memory"
	"github.com/melih/lighthouse-runner/internal/adapters/scenario"
	"github.com/melih/lighthouse-runner/internal/core/services"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Value   json.RawMessage `json:"value"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

type testServer struct {
	app     *fiber.App
	runtime *memory.Runtime
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.yaml"),
		[]byte("name: Hello\ndescription: says hello\noutputs:\n  greeting: string\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lighthouse.yaml"),
		[]byte("name: Lighthouse audit\ndescription: runs lighthouse\n"), 0o644))

	repo, err := scenario.NewRegistry(dir)
	require.NoError(t, err)

	rt := memory.NewRuntime()
	manager := services.NewContainerManager(rt, memory.NewContainerStore(), repo, services.ManagerConfig{LogTimeout: time.Second})
	settings := services.NewSettingsService(memory.NewSettingsStore())

	app := NewRouter(RouterConfig{}, Handlers{
		Containers: NewContainerHandler(manager),
		Scenarios:  NewScenarioHandler(repo),
		Settings:   NewSettingsHandler(settings),
	})
	return &testServer{app: app, runtime: rt}
}

func (s *testServer) do(t *testing.T, method, target, body string) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	return resp.StatusCode, env
}

func (s *testServer) start(t *testing.T, owner string) string {
	t.Helper()
	name, err := json.Marshal(owner)
	require.NoError(t, err)
	code, env := s.do(t, nethttp.MethodPost, "/api/docker/start",
		`{"dockerName":"alpine:latest","username":`+string(name)+`,"scenarioId":"hello","options":{"settings":{"mode":"fast","retries":3},"inputs":{"url":"https://example.com"}}}`)
	require.Equal(t, fiber.StatusCreated, code, env.Error)
	var data struct {
		ContainerID string `json:"containerId"`
		Status      string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.NotEmpty(t, data.ContainerID)
	return data.ContainerID
}

func TestScenarios(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(t, nethttp.MethodGet, "/api/scenarios", "")
	require.Equal(t, fiber.StatusOK, code)
	assert.True(t, env.Success)
	var list []map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 2)
	assert.Equal(t, "hello", list[0]["id"])
	assert.Equal(t, "lighthouse", list[1]["id"])

	code, env = s.do(t, nethttp.MethodGet, "/api/scenarios/hello", "")
	require.Equal(t, fiber.StatusOK, code)
	var content string
	require.NoError(t, json.Unmarshal(env.Data, &content))
	assert.Contains(t, content, "name: Hello")

	code, env = s.do(t, nethttp.MethodGet, "/api/scenarios/nope", "")
	assert.Equal(t, fiber.StatusNotFound, code)
	assert.False(t, env.Success)
	assert.NotEmpty(t, env.Error)

	code, env = s.do(t, nethttp.MethodGet, "/api/scenarios/..%2Fserver", "")
	assert.Equal(t, fiber.StatusBadRequest, code)
	assert.Equal(t, "invalid_identifier", env.Code)
}

func TestStartStatusAndList(t *testing.T) {
	s := newTestServer(t)
	id := s.start(t, "aaa")

	spec, ok := s.runtime.Spec(id)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"MODE=fast", "RETRIES=3"}, spec.Env)
	assert.JSONEq(t, `{"url":"https://example.com"}`, string(spec.Inputs))

	code, env := s.do(t, nethttp.MethodGet, "/api/docker/status/"+id, "")
	require.Equal(t, fiber.StatusOK, code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.Equal(t, id, status["containerId"])
	assert.Equal(t, "aaa", status["owner"])
	assert.Equal(t, "running", status["status"])
	assert.Equal(t, "Hello", status["scenarioName"])
	assert.Equal(t, "Success", status["exitStatus"])

	code, env = s.do(t, nethttp.MethodGet, "/api/docker/list/aaa", "")
	require.Equal(t, fiber.StatusOK, code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0]["containerId"])

	code, env = s.do(t, nethttp.MethodGet, "/api/docker/list/bbb", "")
	require.Equal(t, fiber.StatusOK, code)
	assert.JSONEq(t, `[]`, string(env.Data))

	code, env = s.do(t, nethttp.MethodGet, "/api/docker/status/unknown", "")
	assert.Equal(t, fiber.StatusNotFound, code)
	assert.Equal(t, "not_found", env.Code)
}

func TestListDecodesUsername(t *testing.T) {
	s := newTestServer(t)

	for _, owner := range []string{"john doe", "李雷"} {
		id := s.start(t, owner)

		code, env := s.do(t, nethttp.MethodGet, "/api/docker/list/"+url.PathEscape(owner), "")
		require.Equal(t, fiber.StatusOK, code, env.Error)
		var list []map[string]any
		require.NoError(t, json.Unmarshal(env.Data, &list))
		require.Len(t, list, 1, owner)
		assert.Equal(t, id, list[0]["containerId"])

		code, env = s.do(t, nethttp.MethodPost, "/api/docker/state",
			`{"dockerId":"`+id+`","action":"stop","username":"`+owner+`"}`)
		require.Equal(t, fiber.StatusOK, code, env.Error)
	}
}

func TestStart_BadRequests(t *testing.T) {
	s := newTestServer(t)

	cases := map[string]string{
		"missing image":    `{"username":"aaa"}`,
		"missing username": `{"dockerName":"alpine"}`,
		"nested setting":   `{"dockerName":"alpine","username":"aaa","options":{"settings":{"a":{"b":1}}}}`,
		"bad scenario id":  `{"dockerName":"alpine","username":"aaa","scenarioId":"../etc"}`,
		"malformed json":   `{"dockerName":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			code, env := s.do(t, nethttp.MethodPost, "/api/docker/start", body)
			assert.Equal(t, fiber.StatusBadRequest, code)
			assert.False(t, env.Success)
			assert.NotEmpty(t, env.Error)
		})
	}
}

func TestStart_RuntimeUnavailable(t *testing.T) {
	s := newTestServer(t)
	s.runtime.FailCreate(errors.New("cannot connect to the docker daemon"))

	code, env := s.do(t, nethttp.MethodPost, "/api/docker/start", `{"dockerName":"alpine","username":"aaa"}`)
	assert.Equal(t, fiber.StatusServiceUnavailable, code)
	assert.Equal(t, "runtime_unavailable", env.Code)

	// the failed attempt is still listed
	_, env = s.do(t, nethttp.MethodGet, "/api/docker/list/aaa", "")
	var list []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "error", list[0]["status"])
}

func TestChangeState(t *testing.T) {
	s := newTestServer(t)
	id := s.start(t, "aaa")

	code, env := s.do(t, nethttp.MethodPost, "/api/docker/state", `{"dockerId":"`+id+`","action":"stop","username":"bbb"}`)
	assert.Equal(t, fiber.StatusForbidden, code)
	assert.False(t, env.Success)
	assert.Equal(t, "forbidden", env.Code)

	code, env = s.do(t, nethttp.MethodPost, "/api/docker/state", `{"dockerId":"missing","action":"stop","username":"aaa"}`)
	assert.Equal(t, fiber.StatusNotFound, code)

	code, env = s.do(t, nethttp.MethodPost, "/api/docker/state", `{"dockerId":"`+id+`","action":"pause","username":"aaa"}`)
	assert.Equal(t, fiber.StatusBadRequest, code)

	for i := 0; i < 2; i++ {
		code, env = s.do(t, nethttp.MethodPost, "/api/docker/state", `{"dockerId":"`+id+`","action":"stop","username":"aaa"}`)
		require.Equal(t, fiber.StatusOK, code, env.Error)
		var data map[string]string
		require.NoError(t, json.Unmarshal(env.Data, &data))
		assert.Equal(t, "stop", data["action"])
		assert.Equal(t, "stopped", data["status"])
	}
}

func TestLogsAndOutput(t *testing.T) {
	s := newTestServer(t)
	id := s.start(t, "aaa")

	code, env := s.do(t, nethttp.MethodGet, "/api/docker/logs/"+id, "")
	require.Equal(t, fiber.StatusOK, code)
	var text string
	require.NoError(t, json.Unmarshal(env.Data, &text))
	assert.Contains(t, text, "started")

	code, env = s.do(t, nethttp.MethodGet, "/api/docker/logs/"+id+"?logFile=later.log", "")
	assert.Equal(t, fiber.StatusNotFound, code)
	assert.Equal(t, "log_unavailable", env.Code)

	code, env = s.do(t, nethttp.MethodGet, "/api/docker/logs/"+id+"?logFile=..%2F..%2Fetc%2Fpasswd", "")
	assert.Equal(t, fiber.StatusBadRequest, code)
	assert.Equal(t, "invalid_identifier", env.Code)

	require.NoError(t, s.runtime.WriteFile(id, "outputs/output.json", []byte(`{"greeting":"hi"}`)))
	code, env = s.do(t, nethttp.MethodGet, "/api/docker/output/"+id, "")
	require.Equal(t, fiber.StatusOK, code)
	assert.JSONEq(t, `{"greeting":"hi"}`, string(env.Data))
}

func TestCleanupEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.start(t, "aaa")

	code, env := s.do(t, nethttp.MethodPost, "/api/docker/cleanup", `{"maxAgeInDays":7}`)
	require.Equal(t, fiber.StatusOK, code)
	var report map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, float64(0), report["cleanedCount"])

	code, _ = s.do(t, nethttp.MethodPost, "/api/docker/cleanup", `{"maxAgeInDays":-1}`)
	assert.Equal(t, fiber.StatusBadRequest, code)
}

func TestUserSettings(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(t, nethttp.MethodGet, "/api/user-settings/aaa/hello", "")
	require.Equal(t, fiber.StatusOK, code)
	assert.True(t, env.Success)
	assert.JSONEq(t, `{}`, string(env.Value))

	code, env = s.do(t, nethttp.MethodPost, "/api/user-settings",
		`{"username":"aaa","scenarioId":"hello","settings":{"theme":"dark","limits":{"cpu":2}}}`)
	require.Equal(t, fiber.StatusOK, code, env.Error)
	assert.True(t, env.Success)
	assert.NotEmpty(t, env.Message)

	_, env = s.do(t, nethttp.MethodGet, "/api/user-settings/aaa/hello", "")
	assert.JSONEq(t, `{"theme":"dark","limits":{"cpu":2}}`, string(env.Value))

	_, env = s.do(t, nethttp.MethodGet, "/api/scenarios/hello/settings/aaa", "")
	assert.JSONEq(t, `{"theme":"dark","limits":{"cpu":2}}`, string(env.Value))

	code, _ = s.do(t, nethttp.MethodPost, "/api/scenarios/hello/settings/bbb", `{"settings":{"theme":"light"}}`)
	require.Equal(t, fiber.StatusOK, code)
	_, env = s.do(t, nethttp.MethodGet, "/api/user-settings/bbb/hello", "")
	assert.JSONEq(t, `{"theme":"light"}`, string(env.Value))

	code, env = s.do(t, nethttp.MethodPost, "/api/user-settings", `{"username":"aaa","settings":{}}`)
	assert.Equal(t, fiber.StatusBadRequest, code)
	assert.False(t, env.Success)
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	s := newTestServer(t)
	code, env := s.do(t, nethttp.MethodGet, "/api/nothing-here", "")
	assert.Equal(t, fiber.StatusNotFound, code)
	assert.False(t, env.Success)
	assert.Equal(t, "not_found", env.Code)
}

func TestFlattenSettings(t *testing.T) {
	out, err := flattenSettings(map[string]any{"s": "x", "n": 1.5, "b": true, "z": nil})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"s": "x", "n": "1.5", "b": "true", "z": ""}, out)

	_, err = flattenSettings(map[string]any{"list": []any{1}})
	assert.Error(t, err)
}

func TestDecodeInputs(t *testing.T) {
	b, err := decodeInputs(json.RawMessage(`"raw text"`))
	require.NoError(t, err)
	assert.Equal(t, "raw text", string(b))

	b, err = decodeInputs(json.RawMessage(` {"a":1} `))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(b))

	b, err = decodeInputs(json.RawMessage(`null`))
	require.NoError(t, err)
	assert.Nil(t, b)
}
