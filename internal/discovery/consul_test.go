package discovery

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	consulapi "github.com/hashicorp/consul/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAgent struct {
	mu           sync.Mutex
	registered   []consulapi.AgentServiceRegistration
	deregistered []string
}

func (a *fakeAgent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case r.Method == http.MethodPut && r.URL.Path == "/v1/agent/service/register":
		var reg consulapi.AgentServiceRegistration
		if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		a.registered = append(a.registered, reg)
	case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/v1/agent/service/deregister/"):
		a.deregistered = append(a.deregistered, strings.TrimPrefix(r.URL.Path, "/v1/agent/service/deregister/"))
	default:
		http.NotFound(w, r)
	}
}

func TestRegistrarLifecycle(t *testing.T) {
	agent := &fakeAgent{}
	srv := httptest.NewServer(agent)
	defer srv.Close()

	r, err := NewRegistrar(strings.TrimPrefix(srv.URL, "http://"), "delivery-service", "10.0.0.5", 5001, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, r)

	require.NoError(t, r.Register())
	require.Len(t, agent.registered, 1)
	reg := agent.registered[0]
	assert.Equal(t, "delivery-service-10.0.0.5-5001", reg.ID)
	assert.Equal(t, "delivery-service", reg.Name)
	assert.Equal(t, 5001, reg.Port)
	require.NotNil(t, reg.Check)
	assert.Equal(t, "http://10.0.0.5:5001/health", reg.Check.HTTP)

	require.NoError(t, r.Deregister())
	assert.Equal(t, []string{"delivery-service-10.0.0.5-5001"}, agent.deregistered)
}

func TestRegistrarDisabled(t *testing.T) {
	r, err := NewRegistrar("", "delivery-service", "", 5001, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.NoError(t, r.Register())
	assert.NoError(t, r.Deregister())
}

func TestRegistrarAgentError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	r, err := NewRegistrar(strings.TrimPrefix(srv.URL, "http://"), "delivery-service", "", 5001, zap.NewNop())
	require.NoError(t, err)
	assert.Error(t, r.Register())
}
