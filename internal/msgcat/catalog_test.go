package msgcat

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsRender(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)
	assert.Empty(t, c.OverrideDir())

	got, err := c.Render("reply.created", map[string]any{"Name": "ArcadeA"})
	require.NoError(t, err)
	assert.Equal(t, "创建机厅 ArcadeA 成功了喵", got)

	got, err = c.Render("reply.report_ambiguous", map[string]any{"Venues": []string{"甲", "乙"}})
	require.NoError(t, err)
	assert.Contains(t, got, "甲、乙")
}

func TestCountTemplateReporterOptional(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)
	data := map[string]any{"Alias": "AA", "Count": 5, "Time": "2026-10-16 20:00:00", "Reporter": ""}
	got, err := c.Render("reply.count", data)
	require.NoError(t, err)
	assert.Equal(t, "AA有5人喵\n上次上报时间: 2026-10-16 20:00:00", got)

	data["Reporter"] = "阿明"
	got, err = c.Render("reply.count", data)
	require.NoError(t, err)
	assert.Equal(t, "AA有5人喵\n上次上报时间: 2026-10-16 20:00:00\n上报人: 阿明", got)
}

func TestRenderErrors(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)
	_, err = c.Render("reply.nope", nil)
	assert.Error(t, err, "missing template")
	_, err = c.Render("reply.created", map[string]any{})
	assert.Error(t, err, "missing data key")
}

func TestOverrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), "reply:\n  created: \"新机厅 {{.Name}}\"\n")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	c, err := New(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, c.OverrideDir())

	got, err := c.Render("reply.created", map[string]any{"Name": "X"})
	require.NoError(t, err)
	assert.Equal(t, "新机厅 X", got)
	got, err = c.Render("reply.malformed", nil)
	require.NoError(t, err)
	assert.Equal(t, "输入格式有误喵，请重新检查喵", got)
}

func TestDuplicateOverrideKeys(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), "reply:\n  created: a\n")
	writeFile(t, filepath.Join(dir, "b.yml"), "reply:\n  created: b\n")
	_, err := New(dir)
	assert.Error(t, err)
}

func TestNonStringLeafRejected(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), "reply:\n  created: 3\n")
	_, err := New(dir)
	assert.Error(t, err)
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "o.yaml")
	writeFile(t, path, "reply:\n  alias_removed: one\n")
	c, err := New(dir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx, nil) }()
	defer func() {
		cancel()
		<-done
	}()

	// give the watcher a moment to register the directory
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "reply:\n  alias_removed: two\n")

	assert.Eventually(t, func() bool {
		got, _ := c.Render("reply.alias_removed", nil)
		return got == "two"
	}, 5*time.Second, 50*time.Millisecond, "catalog did not reload")
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}
