package consul

import (
	"fmt"
	"os"
	"strconv"

	"github.com/hashicorp/consul/api"
	"go.uber.org/zap"

	"github.com/aihub/msgsearch-go/internal/config"
)

// ServiceRegistry handles service registration with Consul.
// Registration is optional: when Consul is disabled or unreachable the
// service runs standalone.
type ServiceRegistry struct {
	client      *api.Client
	serviceID   string
	serviceName string
	enabled     bool
	logger      *zap.Logger
}

// NewServiceRegistry creates a registry; a failed connection test downgrades
// to a disabled registry instead of failing startup.
func NewServiceRegistry(cfg config.ConsulConfig, logger *zap.Logger) (*ServiceRegistry, error) {
	registry := &ServiceRegistry{
		serviceID:   cfg.ServiceID,
		serviceName: cfg.ServiceName,
		logger:      logger,
	}
	if !cfg.Enabled {
		return registry, nil
	}

	apiConfig := api.DefaultConfig()
	if cfg.Address != "" {
		apiConfig.Address = cfg.Address
	}
	client, err := api.NewClient(apiConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}

	if _, _, err := client.Health().State(api.HealthAny, nil); err != nil {
		logger.Warn("consul connection test failed, registration disabled", zap.Error(err))
		return registry, nil
	}

	registry.client = client
	registry.enabled = true
	return registry, nil
}

// Register announces the service with an HTTP health check on /healthz.
func (sr *ServiceRegistry) Register(serverCfg config.ServerConfig) error {
	if !sr.enabled {
		return nil
	}

	hostname := os.Getenv("SERVICE_HOST")
	if hostname == "" {
		hostname = "localhost"
	}
	port := 8002
	if p, err := strconv.Atoi(serverCfg.Port); err == nil {
		port = p
	}

	registration := &api.AgentServiceRegistration{
		ID:      sr.serviceID,
		Name:    sr.serviceName,
		Tags:    []string{"api", "go", "semantic-search", serverCfg.Env},
		Address: hostname,
		Port:    port,
		Check: &api.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d/healthz", hostname, port),
			Interval:                       "10s",
			Timeout:                        "3s",
			DeregisterCriticalServiceAfter: "30s",
		},
		Meta: map[string]string{
			"env": serverCfg.Env,
		},
	}

	if err := sr.client.Agent().ServiceRegister(registration); err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}

	sr.logger.Info("service registered with consul",
		zap.String("service_id", sr.serviceID),
		zap.String("service_name", sr.serviceName),
		zap.Int("port", port))
	return nil
}

// Deregister removes the service from Consul on shutdown.
func (sr *ServiceRegistry) Deregister() error {
	if !sr.enabled {
		return nil
	}
	return sr.client.Agent().ServiceDeregister(sr.serviceID)
}
