package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/hyphanet/plugin-Library-sub002/posting"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleInput = `
# lorem
{"kind":"page","term":"lorem","page":"USK@a/site/1/","rel":0.5,"title":"Lorem\u0007 page","positions":{"3":"lorem ipsum","9":""}}
{"kind":"page","term":"ipsum","page":"USK@a/site/1/","rel":0.25}
{"kind":"term","term":"lorem","related":"ipsum"}
{"kind":"index","term":"lorem","index":"USK@b/other/4/"}
{"kind":"uri","uri":"USK@a/site/1/","title":"Lorem page","quality":0.9,"words":1200}
{"kind":"remove-page","term":"ipsum","page":"USK@a/site/0/"}
`

func TestReadInput(t *testing.T) {
	assert := assert.New(t)

	in, err := readInput(strings.NewReader(sampleInput))
	require.NoError(t, err)
	assert.Len(in.Puts, 4)
	assert.Len(in.Removes, 1)
	assert.Len(in.URIs, 1)

	pe, ok := in.Puts[0].(*posting.PageEntry)
	require.True(t, ok)
	assert.Equal("Lorem page", pe.Title)
	assert.Equal(map[int32]string{3: "lorem ipsum", 9: ""}, pe.Positions)

	rec := outputRecord(pe)
	assert.Equal("page", rec.Kind)
	assert.Equal("USK@a/site/1/", rec.target())
	assert.Equal("lorem ipsum", rec.Positions["3"])

	assert.Equal(int64(1200), in.URIs[0].WordCount)
	assert.Equal("ipsum", in.Removes[0].Subject())
}

func TestReadInputErrors(t *testing.T) {
	for _, bad := range []string{
		`{"kind":"page","page":"x"}`,
		`{"kind":"widget","term":"x"}`,
		`{"kind":"uri"}`,
		`{"kind":"page","term":"x","positions":{"three":"x"}}`,
		`{"kind":`,
	} {
		_, err := readInput(strings.NewReader(bad))
		assert.Error(t, err, bad)
	}
}

// runApp runs the command line and returns what it printed.
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	err := app.Run(append([]string{"libidx", "--log-level", "warn"}, args...))
	return out.String(), err
}

func TestBuildAndLookup(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.jsonl")
	require.NoError(t, os.WriteFile(input, []byte(sampleInput), 0o644))

	for _, kind := range []string{"flatfs", "pebble"} {
		t.Run(kind, func(t *testing.T) {
			assert := assert.New(t)
			store := []string{"--store", filepath.Join(dir, kind), "--store-kind", kind}

			out, err := runApp(t, append(store, "build", "--name", "test", "--modified", "2024-03-01", input)...)
			require.NoError(t, err)
			root := strings.TrimSpace(out)
			require.NotEmpty(t, root)

			out, err = runApp(t, append(store, "lookup", "--json", root, "lorem")...)
			require.NoError(t, err)
			lines := strings.Split(strings.TrimSpace(out), "\n")
			assert.Len(lines, 3)
			assert.Contains(out, `"USK@a/site/1/"`)
			assert.Contains(out, `"USK@b/other/4/"`)

			out, err = runApp(t, append(store, "lookup", root, "dolor")...)
			require.NoError(t, err)
			assert.Empty(out)

			out, err = runApp(t, append(store, "dump", "--terms", root)...)
			require.NoError(t, err)
			assert.Contains(out, "name: test")
			assert.Contains(out, "pages: 1")
			assert.Contains(out, "2024-03-01")
			assert.Contains(out, "ipsum\n")
			assert.Contains(out, "lorem\n")

			_, err = runApp(t, append(store, "dump", "--depth", "-1", root)...)
			require.NoError(t, err)

			car := filepath.Join(dir, kind+".car")
			_, err = runApp(t, append(store, "export-car", root, car)...)
			require.NoError(t, err)

			other := []string{"--store", filepath.Join(dir, kind+"-imported"), "--store-kind", kind}
			out, err = runApp(t, append(other, "import-car", car)...)
			require.NoError(t, err)
			assert.Equal(root, strings.TrimSpace(out))

			out, err = runApp(t, append(other, "lookup", root, "ipsum")...)
			require.NoError(t, err)
			assert.Contains(out, "USK@a/site/1/")

			_, err = runApp(t, append(store, "lookup", "not-a-locator", "lorem")...)
			assert.Error(err)
		})
	}
}

func TestBuildPublishes(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()
	input := filepath.Join(dir, "in.jsonl")
	require.NoError(t, os.WriteFile(input, []byte(sampleInput), 0o644))
	global := []string{
		"--store", filepath.Join(dir, "store"),
		"--database-url", "sqlite://" + filepath.Join(dir, "registry.sqlite"),
	}

	_, err := runApp(t, append(global, "build", "--insert-key", "SSK@secret", input)...)
	require.NoError(t, err)
	out, err := runApp(t, append(global, "build", "--insert-key", "SSK@secret", input)...)
	require.NoError(t, err)
	root := strings.TrimSpace(out)

	out, err = runApp(t, append(global, "resolve", "--insert-key", "SSK@secret")...)
	require.NoError(t, err)
	// each push of a build publishes
	fields := strings.Fields(out)
	require.Len(t, fields, 2)
	assert.Equal(root, fields[0])
	edition, err := strconv.Atoi(fields[1])
	require.NoError(t, err)
	assert.Greater(edition, 1)

	_, err = runApp(t, append(global, "resolve", "unknown")...)
	assert.Error(err)

	// publishing needs somewhere to publish to
	_, err = runApp(t, "--store", filepath.Join(dir, "store"), "build", "--insert-key", "SSK@secret", input)
	assert.ErrorIs(err, errNoDatabase)
}
