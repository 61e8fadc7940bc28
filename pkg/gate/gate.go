// Package gate decides, once per process, whether background replication
// may run here. The decision is a pure function of an environment snapshot
// taken at construction time; later changes to the environment are ignored.
package gate

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"ssw-logmanager/pkg/types"
)

// Defaults usados quando a configuração não informa as variáveis
var (
	DefaultDisableVar       = "DISABLE_COPY"
	DefaultRoleVar          = "LOGMANAGER_ROLE"
	DefaultEnableRoles      = []string{"coordinator", "driver", "head", "primary", "leader", "master"}
	DefaultDisableRoles     = []string{"worker", "executor", "replica", "secondary"}
	DefaultWorkerIndicators = []string{"SPARK_EXECUTOR_ID", "RAY_WORKER_ID"}
	DefaultRankVars         = []string{"RANK", "OMPI_COMM_WORLD_RANK"}
)

var truthy = map[string]bool{"1": true, "true": true, "yes": true, "on": true}

// Gate resultado imutável da avaliação
type Gate struct {
	enabled   bool
	reason    string
	variables map[string]string
}

// New avalia o gate a partir de um snapshot explícito do ambiente
func New(cfg types.GateConfig, env map[string]string) *Gate {
	cfg = withDefaults(cfg)

	g := &Gate{variables: make(map[string]string)}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		if ok {
			g.variables[key] = v
		}
		return v, ok
	}

	g.enabled, g.reason = evaluate(cfg, lookup)
	return g
}

// FromEnvironment avalia o gate com o ambiente atual do processo
func FromEnvironment(cfg types.GateConfig) *Gate {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return New(cfg, env)
}

// Enabled informa se a replicação pode rodar neste processo
func (g *Gate) Enabled() bool {
	return g.enabled
}

// Reason explica a decisão
func (g *Gate) Reason() string {
	return g.reason
}

// Status cópia para diagnóstico
func (g *Gate) Status() types.GateStatus {
	vars := make(map[string]string, len(g.variables))
	for k, v := range g.variables {
		vars[k] = v
	}
	return types.GateStatus{Enabled: g.enabled, Reason: g.reason, Variables: vars}
}

// evaluate applies, highest first: explicit disable flag, explicit role,
// auto-detected cluster role, default enabled.
func evaluate(cfg types.GateConfig, lookup func(string) (string, bool)) (bool, string) {
	if v, ok := lookup(cfg.DisableVar); ok && truthy[strings.ToLower(strings.TrimSpace(v))] {
		return false, fmt.Sprintf("replication disabled by %s=%s", cfg.DisableVar, v)
	}

	var note string
	if v, ok := lookup(cfg.RoleVar); ok && strings.TrimSpace(v) != "" {
		role := strings.ToLower(strings.TrimSpace(v))
		switch {
		case contains(cfg.EnableRoles, role):
			return true, fmt.Sprintf("role %q enables replication", role)
		case contains(cfg.DisableRoles, role):
			return false, fmt.Sprintf("role %q disables replication", role)
		default:
			note = fmt.Sprintf(" (unknown role %q ignored)", role)
		}
	}

	for _, key := range cfg.WorkerIndicators {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return false, fmt.Sprintf("worker process detected via %s=%s%s", key, v, note)
		}
	}
	for _, key := range cfg.RankVars {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		rank, err := strconv.Atoi(strings.TrimSpace(v))
		if err == nil && rank != 0 {
			return false, fmt.Sprintf("non-zero rank detected via %s=%d%s", key, rank, note)
		}
	}

	return true, "replication enabled by default" + note
}

func withDefaults(cfg types.GateConfig) types.GateConfig {
	if cfg.DisableVar == "" {
		cfg.DisableVar = DefaultDisableVar
	}
	if cfg.RoleVar == "" {
		cfg.RoleVar = DefaultRoleVar
	}
	if len(cfg.EnableRoles) == 0 {
		cfg.EnableRoles = DefaultEnableRoles
	}
	if len(cfg.DisableRoles) == 0 {
		cfg.DisableRoles = DefaultDisableRoles
	}
	if cfg.WorkerIndicators == nil {
		cfg.WorkerIndicators = DefaultWorkerIndicators
	}
	if cfg.RankVars == nil {
		cfg.RankVars = DefaultRankVars
	}
	return cfg
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
