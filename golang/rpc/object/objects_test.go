package object_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manifold/qmux/golang/mux/transport"
	"github.com/manifold/qmux/golang/rpc"
	"github.com/manifold/qmux/golang/rpc/object"
)

type person struct {
	name string
	age  int
}

func (p *person) Name() string { return p.name }

func (p *person) Birthday() int {
	p.age++
	return p.age
}

type people struct {
	objs *object.Manager
}

func (s *people) New(name string) (object.Handle, error) {
	obj, err := s.objs.Register(&person{name: name, age: 30})
	if err != nil {
		return object.Handle{}, err
	}
	return obj.Handle(), nil
}

func TestManager(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	objs := object.NewManager()
	api := rpc.NewRespondMux(rpc.JSONCodec{})
	api.Bind("people", &people{objs: objs})
	objs.Mount(api, "/objects")

	a, b := transport.Pipe(nil)
	defer a.Close()
	defer b.Close()
	go (&rpc.Server{Mux: api}).Respond(b)
	client := rpc.NewCaller(a, rpc.JSONCodec{})

	var h object.Handle
	_, err := client.Call(ctx, "people/New", "alice", &h)
	require.NoError(t, err)
	assert.Regexp(t, `^/objects/[0-9a-f-]{36}$`, h.ObjectPath)
	assert.Equal(t, 1, objs.Len())

	var name string
	_, err = client.Call(ctx, h.ObjectPath+"/Name", nil, &name)
	require.NoError(t, err)
	assert.Equal(t, "alice", name)

	var age int
	_, err = client.Call(ctx, h.ObjectPath+"/Birthday", nil, &age)
	require.NoError(t, err)
	assert.Equal(t, 31, age)

	obj := objs.Object(h.ObjectPath)
	require.NotNil(t, obj)
	assert.Equal(t, h, obj.Handle())
	assert.Equal(t, 31, obj.Value().(*person).age)

	obj.Dispose()
	assert.Nil(t, objs.Object(h.ObjectPath))
	_, err = client.Call(ctx, h.ObjectPath+"/Name", nil, &name)
	assert.ErrorIs(t, err, rpc.ErrRemote)
}

func TestRegisterRejectsPlainValues(t *testing.T) {
	_, err := object.NewManager().Register(42)
	assert.Error(t, err)
}
