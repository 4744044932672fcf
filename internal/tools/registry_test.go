package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool(name, module string, priority int) *Tool {
	return &Tool{
		Name:     name,
		Module:   module,
		Priority: priority,
		Schema: ToolSchema{
			Required:   []string{"text"},
			Properties: map[string]Property{"text": {Type: "string", Description: "text to echo"}},
		},
		Execute: func(_ context.Context, _ Host, args map[string]any) (string, error) {
			return StringArg(args, "text", ""), nil
		},
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	tool := echoTool("echo", "core", 0)
	require.NoError(t, r.Register(tool))

	assert.True(t, r.Has("echo"))
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, 50, r.Get("echo").Priority, "default priority")
	assert.Equal(t, ModeSync, r.Get("echo").Mode, "default mode")
	assert.Nil(t, r.Get("ghost"))
}

func TestRegistry_RegisterRejects(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool("echo", "core", 0)))

	err := r.Register(echoTool("echo", "other", 0))
	assert.ErrorIs(t, err, ErrToolAlreadyRegistered)

	assert.ErrorIs(t, r.Register(&Tool{Execute: echoTool("x", "", 0).Execute}), ErrToolNameEmpty)
	assert.ErrorIs(t, r.Register(&Tool{Name: "nil"}), ErrToolExecuteNil)

	bad := echoTool("bad", "core", 0)
	bad.Mode = "later"
	assert.ErrorIs(t, r.Register(bad), ErrToolModeInvalid)
}

func TestRegistry_OrderingAndModules(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(echoTool("b", "files", 10))
	r.MustRegister(echoTool("a", "files", 10))
	r.MustRegister(echoTool("c", "search", 90))

	var names []string
	for _, tool := range r.All() {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{"c", "a", "b"}, names)
	assert.Len(t, r.ByModule("files"), 2)
	assert.Equal(t, []string{"a", "b", "c"}, r.Names())

	removed := r.UnregisterModule("files")
	assert.ElementsMatch(t, []string{"a", "b"}, removed)
	assert.Equal(t, []string{"c"}, r.Names())
	assert.Empty(t, r.ByModule("files"))

	assert.True(t, r.Unregister("c"))
	assert.False(t, r.Unregister("c"))
	assert.Zero(t, r.Count())
}

func TestRegistry_Execute(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(echoTool("echo", "core", 0))

	res, err := r.Execute(context.Background(), nil, "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.True(t, res.IsSuccess())
	assert.Equal(t, "hi", res.Text())

	res, err = r.Execute(context.Background(), nil, "echo", nil)
	assert.ErrorIs(t, err, ErrMissingRequiredArg)
	assert.Contains(t, res.Text(), "missing required argument")

	_, err = r.Execute(context.Background(), nil, "ghost", nil)
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestRegistry_ExecutePropagatesToolError(t *testing.T) {
	boom := errors.New("boom")
	r := NewRegistry()
	r.MustRegister(&Tool{
		Name:    "fail",
		Execute: func(context.Context, Host, map[string]any) (string, error) { return "", boom },
	})

	res, err := r.Execute(context.Background(), nil, "fail", nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "Error: boom", res.Text())
}

func TestTool_JSONSchema(t *testing.T) {
	tool := echoTool("echo", "core", 0)
	tool.Schema.Properties["tags"] = Property{Type: "array", Items: &PropertyItems{Type: "string"}}

	schema := tool.JSONSchema()
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []string{"text"}, schema["required"])
	props := schema["properties"].(map[string]any)
	assert.Contains(t, props, "text")
	assert.Equal(t, map[string]any{"type": "string"}, props["tags"].(map[string]any)["items"])

	empty := (&Tool{Name: "x"}).JSONSchema()
	assert.Equal(t, []string{}, empty["required"])
}

func TestArgs(t *testing.T) {
	args := map[string]any{
		"s":    "x",
		"f":    float64(3),
		"frac": 2.5,
		"n":    "7",
		"b":    true,
		"bs":   "false",
		"list": []any{"a", 1, "b"},
	}
	assert.Equal(t, "x", StringArg(args, "s", "d"))
	assert.Equal(t, "d", StringArg(args, "missing", "d"))
	assert.Equal(t, 3, IntArg(args, "f", 0))
	assert.Equal(t, 9, IntArg(args, "frac", 9))
	assert.Equal(t, 7, IntArg(args, "n", 0))
	assert.True(t, BoolArg(args, "b", false))
	assert.False(t, BoolArg(args, "bs", true))
	assert.Equal(t, []string{"a", "b"}, StringsArg(args, "list"))

	_, err := RequireString(args, "missing")
	assert.ErrorIs(t, err, ErrMissingRequiredArg)
	_, err = RequireString(args, "f")
	assert.ErrorIs(t, err, ErrInvalidArg)
}
