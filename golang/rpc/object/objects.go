// Package object exports values created at runtime. Each registered
// value gets a path below the manager's mount point and its methods
// are callable as <mount>/<id>/<Method> until it is disposed.
package object

import (
	"fmt"
	path_ "path"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/manifold/qmux/golang/rpc"
)

type Manager struct {
	mountPath string
	values    map[string]entry
	mu        sync.Mutex
}

type entry struct {
	value   interface{}
	handler rpc.Handler
}

func NewManager() *Manager {
	return &Manager{
		values:    make(map[string]entry),
		mountPath: "/",
	}
}

// Mount binds the manager below path on rm.
func (m *Manager) Mount(rm *rpc.RespondMux, path string) {
	path = "/" + strings.Trim(path, "/")
	m.mu.Lock()
	m.mountPath = path
	m.mu.Unlock()
	rm.Bind(strings.TrimSuffix(path, "/")+"/", m)
}

func (m *Manager) id(path string) string {
	m.mu.Lock()
	mount := m.mountPath
	m.mu.Unlock()
	id := strings.TrimPrefix("/"+strings.TrimPrefix(path, "/"), mount)
	return strings.Trim(id, "/")
}

// Object returns the object registered at path, or nil.
func (m *Manager) Object(path string) *Object {
	id := m.id(path)
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.values[id]
	if !ok {
		return nil
	}
	return &Object{id: id, manager: m, value: e.value}
}

// Register exports the methods of v under a new id.
func (m *Manager) Register(v interface{}) (*Object, error) {
	h, err := rpc.Export(v)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[id] = entry{value: v, handler: h}
	return &Object{id: id, manager: m, value: v}, nil
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}

func (m *Manager) RespondRPC(r rpc.Responder, c *rpc.Call) {
	id := m.id(c.ObjectPath)
	m.mu.Lock()
	e, ok := m.values[id]
	m.mu.Unlock()
	if !ok {
		r.Return(fmt.Errorf("object not registered: %s", c.ObjectPath))
		return
	}
	e.handler.RespondRPC(r, c)
}

// Handle is what a method returns to hand an object to the caller.
type Handle struct {
	ObjectPath string
}

type Object struct {
	manager *Manager
	id      string
	value   interface{}
}

func (o *Object) Dispose() {
	o.manager.mu.Lock()
	defer o.manager.mu.Unlock()
	delete(o.manager.values, o.id)
}

func (o *Object) Path() string {
	o.manager.mu.Lock()
	defer o.manager.mu.Unlock()
	return path_.Join(o.manager.mountPath, o.id)
}

func (o *Object) Handle() Handle {
	return Handle{ObjectPath: o.Path()}
}

func (o *Object) Value() interface{} {
	return o.value
}
