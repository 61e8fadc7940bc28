// Package routing keeps the bidirectional handler<->task graph and answers,
// for every emitted record, whether a handler should receive it.
//
// Both views (handler -> tasks and task -> ordered bindings) are mutated
// only through addEdge/removeEdge while holding the write lock, so a reader
// never observes a binding present in one view and missing from the other.
package routing

import (
	"fmt"
	"sort"
	"sync"

	apperrors "ssw-logmanager/pkg/errors"
	"ssw-logmanager/pkg/types"
)

const component = "routing"

// Predicate decide se um registro de uma task, em um nível, deve ser entregue
type Predicate func(task string, level types.Level) bool

// Binding entrada (handler, nível) de uma task
type Binding struct {
	Handler string
	Level   types.Level
}

type handlerNode struct {
	floor types.Level
	tasks map[string]types.Level
}

type taskNode struct {
	bindings []Binding // ordem de declaração
}

func (t *taskNode) index(handler string) int {
	for i, b := range t.bindings {
		if b.Handler == handler {
			return i
		}
	}
	return -1
}

// Map mapa de roteamento handler<->task
type Map struct {
	mu       sync.RWMutex
	handlers map[string]*handlerNode
	tasks    map[string]*taskNode
}

// New cria um mapa vazio
func New() *Map {
	return &Map{
		handlers: make(map[string]*handlerNode),
		tasks:    make(map[string]*taskNode),
	}
}

// addEdge grava o binding nas duas visões. Chamar com mu travado para escrita.
func (m *Map) addEdge(task, handler string, level types.Level) {
	h := m.handlers[handler]
	h.tasks[task] = level

	t, ok := m.tasks[task]
	if !ok {
		t = &taskNode{}
		m.tasks[task] = t
	}
	if i := t.index(handler); i >= 0 {
		t.bindings[i].Level = level
		return
	}
	t.bindings = append(t.bindings, Binding{Handler: handler, Level: level})
}

// removeEdge remove o binding das duas visões. Chamar com mu travado para escrita.
func (m *Map) removeEdge(task, handler string) {
	if h, ok := m.handlers[handler]; ok {
		delete(h.tasks, task)
	}
	if t, ok := m.tasks[task]; ok {
		if i := t.index(handler); i >= 0 {
			t.bindings = append(t.bindings[:i], t.bindings[i+1:]...)
		}
	}
}

// AddHandler registra um handler com seu nível mínimo
func (m *Map) AddHandler(name string, floor types.Level) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.handlers[name]; exists {
		return apperrors.AlreadyExistsError(component, "add_handler",
			fmt.Sprintf("handler %s already exists", name))
	}
	m.handlers[name] = &handlerNode{floor: floor, tasks: make(map[string]types.Level)}
	return nil
}

// SetHandlerFloor altera o nível mínimo de um handler existente
func (m *Map) SetHandlerFloor(name string, floor types.Level) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, exists := m.handlers[name]
	if !exists {
		return apperrors.NotFoundError(component, "update_handler",
			fmt.Sprintf("handler %s does not exist", name))
	}
	h.floor = floor
	return nil
}

// RemoveHandler remove o handler e todos os bindings que o referenciam
func (m *Map) RemoveHandler(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, exists := m.handlers[name]
	if !exists {
		return apperrors.NotFoundError(component, "remove_handler",
			fmt.Sprintf("handler %s does not exist", name))
	}
	for task := range h.tasks {
		m.removeEdge(task, name)
	}
	delete(m.handlers, name)
	return nil
}

// HasHandler informa se o handler está registrado
func (m *Map) HasHandler(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.handlers[name]
	return ok
}

// HasTask informa se a task está registrada
func (m *Map) HasTask(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.tasks[name]
	return ok
}

// checkHandlers valida que todos os handlers referenciados existem. Chamar com mu travado.
func (m *Map) checkHandlers(op, task string, bindings []Binding) error {
	for _, b := range bindings {
		if _, ok := m.handlers[b.Handler]; !ok {
			return apperrors.NotFoundError(component, op,
				fmt.Sprintf("handler %s referenced by task %s does not exist", b.Handler, task))
		}
	}
	return nil
}

// AddTask registra uma task com seus bindings; nada é gravado se algum handler não existir
func (m *Map) AddTask(name string, bindings []Binding) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tasks[name]; exists {
		return apperrors.AlreadyExistsError(component, "add_task",
			fmt.Sprintf("task %s already exists", name))
	}
	if err := m.checkHandlers("add_task", name, bindings); err != nil {
		return err
	}
	m.tasks[name] = &taskNode{}
	for _, b := range bindings {
		m.addEdge(name, b.Handler, b.Level)
	}
	return nil
}

// ReplaceTask troca atomicamente todos os bindings de uma task existente
func (m *Map) ReplaceTask(name string, bindings []Binding) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, exists := m.tasks[name]
	if !exists {
		return apperrors.NotFoundError(component, "update_task",
			fmt.Sprintf("task %s does not exist", name))
	}
	if err := m.checkHandlers("update_task", name, bindings); err != nil {
		return err
	}
	old := append([]Binding(nil), t.bindings...)
	for _, b := range old {
		m.removeEdge(name, b.Handler)
	}
	for _, b := range bindings {
		m.addEdge(name, b.Handler, b.Level)
	}
	return nil
}

// RemoveTask remove a task e todos os seus bindings
func (m *Map) RemoveTask(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, exists := m.tasks[name]
	if !exists {
		return apperrors.NotFoundError(component, "remove_task",
			fmt.Sprintf("task %s does not exist", name))
	}
	old := append([]Binding(nil), t.bindings...)
	for _, b := range old {
		m.removeEdge(name, b.Handler)
	}
	delete(m.tasks, name)
	return nil
}

// Bind cria ou sobrescreve o binding (task, handler). O handler precisa existir.
func (m *Map) Bind(task, handler string, level types.Level) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.handlers[handler]; !ok {
		return apperrors.NotFoundError(component, "bind",
			fmt.Sprintf("handler %s does not exist", handler))
	}
	m.addEdge(task, handler, level)
	return nil
}

// Unbind remove o binding (task, handler); no-op se não existir
func (m *Map) Unbind(task, handler string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeEdge(task, handler)
}

// Evaluate returns true iff a binding (task, handler) exists and level is at
// least max(handler floor, binding level). Missing bindings never deliver.
func (m *Map) Evaluate(handler, task string, level types.Level) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.handlers[handler]
	if !ok {
		return false
	}
	bound, ok := h.tasks[task]
	if !ok {
		return false
	}
	return level >= effective(h.floor, bound)
}

// Filter retorna um predicado preso ao nome do handler que lê o estado atual
// a cada chamada; mudanças de nível valem sem re-registrar o sink.
func (m *Map) Filter(handler string) Predicate {
	return func(task string, level types.Level) bool {
		return m.Evaluate(handler, task, level)
	}
}

// HandlersFor lista os handlers ligados a uma task, na ordem declarada
func (m *Map) HandlersFor(task string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[task]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(t.bindings))
	for _, b := range t.bindings {
		names = append(names, b.Handler)
	}
	return names
}

// TasksFor lista as tasks ligadas a um handler, ordenadas
func (m *Map) TasksFor(handler string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.handlers[handler]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(h.tasks))
	for task := range h.tasks {
		names = append(names, task)
	}
	sort.Strings(names)
	return names
}

// Snapshot cópia profunda das duas visões
func (m *Map) Snapshot() types.Mappings {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := types.Mappings{
		Handlers: make(map[string]types.HandlerView, len(m.handlers)),
		Tasks:    make(map[string][]types.BindingInfo, len(m.tasks)),
	}

	for name, h := range m.handlers {
		view := types.HandlerView{Floor: h.floor, Tasks: make([]types.BindingInfo, 0, len(h.tasks))}
		for task, lvl := range h.tasks {
			view.Tasks = append(view.Tasks, types.BindingInfo{
				Name:      task,
				Level:     lvl,
				Effective: effective(h.floor, lvl),
			})
		}
		sort.Slice(view.Tasks, func(i, j int) bool { return view.Tasks[i].Name < view.Tasks[j].Name })
		snap.Handlers[name] = view
	}

	for name, t := range m.tasks {
		infos := make([]types.BindingInfo, 0, len(t.bindings))
		for _, b := range t.bindings {
			infos = append(infos, types.BindingInfo{
				Name:      b.Handler,
				Level:     b.Level,
				Effective: effective(m.handlers[b.Handler].floor, b.Level),
			})
		}
		snap.Tasks[name] = infos
	}

	return snap
}

// Clear remove tudo
func (m *Map) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = make(map[string]*handlerNode)
	m.tasks = make(map[string]*taskNode)
}

func effective(floor, bound types.Level) types.Level {
	if floor > bound {
		return floor
	}
	return bound
}
