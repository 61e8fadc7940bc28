package hotreload

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"ssw-logmanager/pkg/types"
)

// ConfigDiff mudanças de roteamento e replicação entre duas configurações.
// Handlers cujo formato nomeado mudou aparecem em HandlersChanged.
type ConfigDiff struct {
	HandlersAdded   []string
	HandlersRemoved []string
	HandlersChanged []string

	TasksAdded   []string
	TasksRemoved []string
	TasksChanged []string

	OperationsAdded   []string
	OperationsRemoved []string
	OperationsChanged []string
}

// Empty informa se não há nada a aplicar
func (d ConfigDiff) Empty() bool {
	return len(d.HandlersAdded)+len(d.HandlersRemoved)+len(d.HandlersChanged)+
		len(d.TasksAdded)+len(d.TasksRemoved)+len(d.TasksChanged)+
		len(d.OperationsAdded)+len(d.OperationsRemoved)+len(d.OperationsChanged) == 0
}

// Summary resumo para log
func (d ConfigDiff) Summary() string {
	if d.Empty() {
		return "none"
	}
	var parts []string
	add := func(label string, names []string) {
		if len(names) > 0 {
			parts = append(parts, fmt.Sprintf("%s=%s", label, strings.Join(names, ",")))
		}
	}
	add("handlers+", d.HandlersAdded)
	add("handlers-", d.HandlersRemoved)
	add("handlers~", d.HandlersChanged)
	add("tasks+", d.TasksAdded)
	add("tasks-", d.TasksRemoved)
	add("tasks~", d.TasksChanged)
	add("operations+", d.OperationsAdded)
	add("operations-", d.OperationsRemoved)
	add("operations~", d.OperationsChanged)
	return strings.Join(parts, " ")
}

// ComputeDiff compara duas configurações; old nil significa tudo novo
func ComputeDiff(old, new *types.Config) ConfigDiff {
	if old == nil {
		old = &types.Config{}
	}
	if new == nil {
		new = &types.Config{}
	}

	var d ConfigDiff

	d.HandlersAdded, d.HandlersRemoved, d.HandlersChanged = diffMaps(old.Handlers, new.Handlers,
		func(name string, a, b types.HandlerConfig) bool {
			if !reflect.DeepEqual(a, b) {
				return true
			}
			// mesmo nome de formato, template diferente
			return old.Formats[a.Format] != new.Formats[b.Format]
		})

	d.TasksAdded, d.TasksRemoved, d.TasksChanged = diffMaps(old.Tasks, new.Tasks,
		func(name string, a, b []types.TaskBinding) bool {
			return !reflect.DeepEqual(a, b)
		})

	oldOps := operationsByName(old.Replication.Operations)
	newOps := operationsByName(new.Replication.Operations)
	defaultsChanged := !reflect.DeepEqual(old.Replication.Defaults, new.Replication.Defaults)
	d.OperationsAdded, d.OperationsRemoved, d.OperationsChanged = diffMaps(oldOps, newOps,
		func(name string, a, b types.ReplicationOperation) bool {
			return defaultsChanged || !reflect.DeepEqual(a, b)
		})

	return d
}

func operationsByName(ops []types.ReplicationOperation) map[string]types.ReplicationOperation {
	m := make(map[string]types.ReplicationOperation, len(ops))
	for _, op := range ops {
		m[op.Name] = op
	}
	return m
}

func diffMaps[V any](old, new map[string]V, changed func(string, V, V) bool) (added, removed, modified []string) {
	for name, nv := range new {
		ov, ok := old[name]
		switch {
		case !ok:
			added = append(added, name)
		case changed(name, ov, nv):
			modified = append(modified, name)
		}
	}
	for name := range old {
		if _, ok := new[name]; !ok {
			removed = append(removed, name)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(modified)
	return
}
