package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/flowscope/internal/runtime/errors"
	loggingpkg "github.com/drblury/flowscope/internal/runtime/logging"
	"github.com/drblury/flowscope/internal/runtime/naming"
)

type fakeEntity struct {
	id    string
	level int
}

func (f *fakeEntity) ManagedAttributes() map[string]any {
	return map[string]any{"Id": f.id, "Level": f.level}
}

func (f *fakeEntity) SetManagedAttribute(name string, value any) error {
	if name != "Level" {
		return UnknownAttribute(name)
	}
	n, err := ToInt(value)
	if err != nil {
		return err
	}
	f.level = n
	return nil
}

func (f *fakeEntity) InvokeManagedOperation(_ context.Context, op string, args []any) (any, error) {
	switch op {
	case "echo":
		return StringArg(op, args, 0)
	default:
		return nil, UnknownOperation(op)
	}
}

func (f *fakeEntity) ManagedDescription() string { return "fake " + f.id }

// renamingServer returns a canonical name with a suffix, like a backend that
// disambiguates names on its own.
type renamingServer struct {
	*InMemoryServer
}

func (s renamingServer) Register(name naming.ObjectName, entity any) (naming.ObjectName, error) {
	name.Name += "-1"
	return s.InMemoryServer.Register(name, entity)
}

var strategy = naming.NewStrategy("flowscope", "ctx")

func newRegistry() *Registry {
	return New(nil, loggingpkg.Discard())
}

func TestRegisterIsIdempotent(t *testing.T) {
	r := newRegistry()
	e := &fakeEntity{id: "foo"}

	first, err := r.Register(e, strategy.Processor("foo"))
	require.NoError(t, err)
	second, err := r.Register(e, strategy.Processor("foo"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, r.IsRegistered(first))
	assert.Equal(t, 1, r.Len())

	require.NoError(t, r.Unregister(first))
	assert.False(t, r.IsRegistered(first))
	assert.Equal(t, 0, r.Len())
}

func TestRegisterTracksCanonicalName(t *testing.T) {
	r := New(renamingServer{NewInMemoryServer()}, loggingpkg.Discard())
	e := &fakeEntity{id: "bar"}

	proposed := strategy.Processor("bar")
	effective, err := r.Register(e, proposed)
	require.NoError(t, err)

	assert.Equal(t, "bar-1", effective.Name)
	assert.True(t, r.IsRegistered(effective))
	assert.False(t, r.IsRegistered(proposed))

	again, err := r.Register(e, proposed)
	require.NoError(t, err)
	assert.Equal(t, effective, again)
}

func TestInMemoryServerCanonicalisesNames(t *testing.T) {
	s := NewInMemoryServer()
	name, err := s.Register(naming.ObjectName{Domain: "flowscope", Context: "ctx", Type: "Routes", Name: ` "route1" `}, &fakeEntity{})
	require.NoError(t, err)
	assert.Equal(t, strategy.Route("route1"), name)

	_, err = s.Register(naming.ObjectName{Domain: "flowscope", Context: "ctx", Type: "widgets", Name: "x"}, &fakeEntity{})
	assert.ErrorIs(t, err, errspkg.ErrInvalidObjectName)
}

func TestRegisterRejectsNameConflict(t *testing.T) {
	r := newRegistry()
	_, err := r.Register(&fakeEntity{id: "a"}, strategy.Processor("dup"))
	require.NoError(t, err)

	_, err = r.Register(&fakeEntity{id: "b"}, strategy.Processor("dup"))
	assert.ErrorIs(t, err, errspkg.ErrNameConflict)
	assert.Equal(t, 1, r.Len())
}

func TestRegisterRejectsNonComparableEntity(t *testing.T) {
	r := newRegistry()
	_, err := r.Register(map[string]int{}, strategy.Service("map"))
	assert.ErrorIs(t, err, errspkg.ErrInvalidArgument)
}

func TestUnregisterUnknownIsNoop(t *testing.T) {
	r := newRegistry()
	assert.NoError(t, r.Unregister(strategy.Route("missing")))
	assert.NoError(t, r.UnregisterEntity(&fakeEntity{}))
}

func TestFindReturnsExactSubset(t *testing.T) {
	r := newRegistry()
	for _, name := range []naming.ObjectName{
		strategy.Endpoint("direct://start"),
		strategy.Endpoint("mock://result"),
		strategy.Route("route1"),
		strategy.Processor("foo"),
		strategy.Processor("bar"),
	} {
		_, err := r.Register(&fakeEntity{id: name.Name}, name)
		require.NoError(t, err)
	}

	endpoints, err := r.FindString("flowscope:type=endpoints,*")
	require.NoError(t, err)
	assert.Len(t, endpoints, 2)

	processors, err := r.FindString("flowscope:context=ctx,type=processors,*")
	require.NoError(t, err)
	require.Len(t, processors, 2)
	assert.Equal(t, "bar", processors[0].Name)

	all := r.Names()
	assert.Len(t, all, 5)

	_, err = r.FindString("no-colon")
	assert.ErrorIs(t, err, errspkg.ErrInvalidObjectName)

	r.UnregisterAll()
	assert.Empty(t, r.Names())
}

func TestAttributeAndOperationDispatch(t *testing.T) {
	r := newRegistry()
	e := &fakeEntity{id: "svc"}
	name, err := r.Register(e, strategy.Service("svc"))
	require.NoError(t, err)

	attrs, err := r.Attributes(name)
	require.NoError(t, err)
	assert.Equal(t, "svc", attrs["Id"])
	assert.Equal(t, "fake svc", attrs["Description"])

	require.NoError(t, r.SetAttribute(name, "Level", float64(3)))
	v, err := r.Attribute(name, "Level")
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	_, err = r.Attribute(name, "Nope")
	assert.ErrorIs(t, err, errspkg.ErrUnknownAttribute)

	out, err := r.Invoke(context.Background(), name, "echo", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi", out)

	_, err = r.Invoke(context.Background(), name, "explode")
	assert.ErrorIs(t, err, errspkg.ErrUnknownOperation)

	_, err = r.Attributes(strategy.Service("missing"))
	assert.ErrorIs(t, err, errspkg.ErrEntityNotFound)
}

func TestReadOnlyEntity(t *testing.T) {
	type plain struct{ n int }
	r := newRegistry()
	name, err := r.Register(&plain{}, strategy.Service("plain"))
	require.NoError(t, err)

	attrs, err := r.Attributes(name)
	require.NoError(t, err)
	assert.Empty(t, attrs)
	assert.ErrorIs(t, r.SetAttribute(name, "X", 1), errspkg.ErrReadOnlyAttribute)
	_, err = r.Invoke(context.Background(), name, "x")
	assert.True(t, errors.Is(err, errspkg.ErrUnknownOperation))
}

func TestConcurrentRegistration(t *testing.T) {
	r := newRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e := &fakeEntity{level: i}
			name, err := r.Register(e, strategy.ThreadPool("pool", string(rune('a'+i%26))+string(rune('a'+i/26))))
			assert.NoError(t, err)
			assert.True(t, r.IsRegistered(name))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, r.Len())
}

func TestArgumentHelpers(t *testing.T) {
	d, err := ToDuration("1500")
	require.NoError(t, err)
	assert.Equal(t, int64(1500), d.Milliseconds())
	d, err = ToDuration("2s")
	require.NoError(t, err)
	assert.Equal(t, float64(2), d.Seconds())

	_, err = IntArg("op", nil, 0)
	assert.ErrorIs(t, err, errspkg.ErrInvalidArgument)
	b, err := BoolArg("op", []any{"true"}, 0)
	require.NoError(t, err)
	assert.True(t, b)
	assert.Equal(t, "", OptionalStringArg(nil, 2))
}
