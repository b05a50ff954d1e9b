package discovery

import (
	"fmt"
	"net"
	"strconv"

	consulapi "github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

// Registrar announces this instance to a Consul agent so gateways can find
// it, with an HTTP check against /health.
type Registrar struct {
	client    *consulapi.Client
	serviceID string
	reg       *consulapi.AgentServiceRegistration
	logger    *zap.Logger
}

// NewRegistrar returns nil, nil when consulAddr is empty.
func NewRegistrar(consulAddr, serviceName, advertiseAddr string, port int, logger *zap.Logger) (*Registrar, error) {
	if consulAddr == "" {
		return nil, nil
	}
	cfg := consulapi.DefaultConfig()
	cfg.Address = consulAddr
	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, err
	}

	host := advertiseAddr
	if host == "" {
		host = "127.0.0.1"
	}
	id := fmt.Sprintf("%s-%s-%d", serviceName, host, port)
	return &Registrar{
		client:    client,
		serviceID: id,
		logger:    logger.Named("consul"),
		reg: &consulapi.AgentServiceRegistration{
			ID:      id,
			Name:    serviceName,
			Address: host,
			Port:    port,
			Check: &consulapi.AgentServiceCheck{
				HTTP:                           "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/health",
				Interval:                       "10s",
				Timeout:                        "2s",
				DeregisterCriticalServiceAfter: "1m",
			},
		},
	}, nil
}

func (r *Registrar) Register() error {
	if r == nil {
		return nil
	}
	if err := r.client.Agent().ServiceRegister(r.reg); err != nil {
		return fmt.Errorf("consul register: %w", err)
	}
	r.logger.Info("registered with consul", zap.String("service_id", r.serviceID))
	return nil
}

func (r *Registrar) Deregister() error {
	if r == nil {
		return nil
	}
	if err := r.client.Agent().ServiceDeregister(r.serviceID); err != nil {
		return fmt.Errorf("consul deregister: %w", err)
	}
	r.logger.Info("deregistered from consul", zap.String("service_id", r.serviceID))
	return nil
}
