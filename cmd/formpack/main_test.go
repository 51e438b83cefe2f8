package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/formpack-go/application"
	"github.com/lk2023060901/formpack-go/internal/json"
	"github.com/lk2023060901/formpack-go/pkg/formpack"
	"github.com/lk2023060901/formpack-go/pkg/formpack/transport"
	"github.com/lk2023060901/formpack-go/pkg/util/merr"
)

func TestBuildGraph(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/doc.json", []byte(`{"title":"t","id":12345678901234567890,"posts":[{"text":"a"}]}`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/cover.png", []byte("png"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/img.jpg", []byte("jpg"), 0o644))

	graph, err := buildGraph(fs, "/doc.json", []string{
		"cover=/cover.png",
		"posts.0.image=/img.jpg",
		"posts.1.image=/img.jpg",
		"meta.avatar=/img.jpg",
	})
	require.NoError(t, err)

	root := graph.(map[string]any)
	assert.Equal(t, json.Number("12345678901234567890"), root["id"])
	assert.Equal(t, "cover.png", root["cover"].(*formpack.FsFile).Filename())
	posts := root["posts"].([]any)
	require.Len(t, posts, 2)
	assert.Equal(t, "a", posts[0].(map[string]any)["text"])
	assert.IsType(t, &formpack.FsFile{}, posts[0].(map[string]any)["image"])
	assert.IsType(t, &formpack.FsFile{}, posts[1].(map[string]any)["image"])
	assert.IsType(t, &formpack.FsFile{}, root["meta"].(map[string]any)["avatar"])

	env, err := formpack.Pack(graph)
	require.NoError(t, err)
	assert.Len(t, env.Parts, 4)
	assert.Contains(t, string(env.JSON), `"id":12345678901234567890`)
}

func TestBuildGraphErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/doc.json", []byte(`{"title":"t","list":[]}`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/bad.json", []byte(`{"title":`), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/f", []byte("f"), 0o644))

	_, err := buildGraph(fs, "/bad.json", nil)
	assert.ErrorIs(t, err, merr.ErrJSONParse)

	for _, arg := range []string{"nokey", "=/f", "title.x=/f", "list.3=/f", "list.x=/f"} {
		_, err := buildGraph(fs, "/doc.json", []string{arg})
		assert.ErrorIs(t, err, merr.ErrParameterInvalid, arg)
	}

	_, err = buildGraph(fs, "", []string{"a=/missing"})
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)

	graph, err := buildGraph(fs, "", []string{"a=/f"})
	require.NoError(t, err)
	assert.Contains(t, graph, "a")
}

func TestWriteEnvelope(t *testing.T) {
	fs := afero.NewMemMapFs()
	env, err := formpack.Pack(map[string]any{"a": formpack.NewBlob("a.txt", "text/plain", []byte("a"))})
	require.NoError(t, err)

	var stdout, stderr bytes.Buffer
	require.NoError(t, writeEnvelope(fs, env, "/body.bin", &stdout, &stderr))
	assert.Equal(t, env.ContentType()+"\n", stdout.String())
	assert.Empty(t, stderr.String())

	written, err := afero.ReadFile(fs, "/body.bin")
	require.NoError(t, err)
	var direct bytes.Buffer
	_, err = env.WriteTo(&direct)
	require.NoError(t, err)
	assert.Equal(t, direct.Bytes(), written)

	stdout.Reset()
	require.NoError(t, writeEnvelope(fs, env, "-", &stdout, &stderr))
	assert.Equal(t, direct.Bytes(), stdout.Bytes())
	assert.Equal(t, env.ContentType()+"\n", stderr.String())
}

func TestServeMux(t *testing.T) {
	chdir(t, t.TempDir())
	app := application.New()
	require.NoError(t, app.Viper().Viper().MergeConfigMap(map[string]any{
		"server": map[string]any{"path": "/upload"},
		"unpack": map[string]any{"uploadDir": t.TempDir()},
	}))
	require.NoError(t, app.Load(""))

	mux, handler, err := newServeMux(app.Config(), app.Logger("server"))
	require.NoError(t, err)
	defer handler.Close()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	env, err := formpack.Pack(map[string]any{
		"title": "hello",
		"files": []any{formpack.NewBlob("a.txt", "text/plain", []byte("abc"))},
	})
	require.NoError(t, err)

	client, err := transport.NewClient(app.Config().Client, transport.WithContentEncoding("zstd"))
	require.NoError(t, err)
	resp, err := client.Send(context.Background(), srv.URL+"/upload", env)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		Title string `json:"title"`
		Files []struct {
			Name string `json:"name"`
			Size int64  `json:"size"`
			Type string `json:"type"`
		} `json:"files"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "hello", got.Title)
	require.Len(t, got.Files, 1)
	assert.Equal(t, "a.txt", got.Files[0].Name)
	assert.EqualValues(t, 3, got.Files[0].Size)
	assert.Equal(t, "text/plain", got.Files[0].Type)

	metricsResp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	body, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, metricsResp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestPackCommand(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "doc.json"), []byte(`{"title":"cli"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("attachment"), 0o644))
	out := filepath.Join(dir, "body.bin")

	root := newRootCmd()
	var stdout bytes.Buffer
	root.SetOut(&stdout)
	root.SetArgs([]string{"pack", "--json", "doc.json", "--file", "doc=a.txt", "--out", out, "--log-level", "error"})
	require.NoError(t, root.Execute())

	contentType := strings.TrimSpace(stdout.String())
	assert.True(t, strings.HasPrefix(contentType, "multipart/form-data; boundary="))

	body, err := os.ReadFile(out)
	require.NoError(t, err)
	u, err := formpack.NewUnpacker(formpack.WithUploadDir(t.TempDir()))
	require.NoError(t, err)
	defer u.Close()
	result, err := u.UnpackReader(context.Background(), bytes.NewReader(body), contentType)
	require.NoError(t, err)
	defer result.Cleanup()
	data := result.Data.(map[string]any)
	assert.Equal(t, "cli", data["title"])
	assert.NotNil(t, data["doc"])
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var stdout bytes.Buffer
	root.SetOut(&stdout)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.True(t, strings.HasPrefix(stdout.String(), "formpack v"+Version))
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}
