package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Server holds the health endpoint server configuration.
type Server struct {
	Host              string `json:"host" yaml:"host"`
	Port              int    `json:"port" yaml:"port"`
	FailedJobsCeiling int    `json:"failed_jobs_ceiling" yaml:"failed_jobs_ceiling"`
}

// Addr returns the host:port listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func getServerConfig(v *viper.Viper) *Server {
	v.SetDefault("server.failed_jobs_ceiling", 100)
	return &Server{
		Host:              v.GetString("server.host"),
		Port:              v.GetInt("server.port"),
		FailedJobsCeiling: v.GetInt("server.failed_jobs_ceiling"),
	}
}
