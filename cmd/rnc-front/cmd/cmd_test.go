package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dellavolpe/rnc-front/internal/config"
	"github.com/dellavolpe/rnc-front/internal/objstore"
	"github.com/dellavolpe/rnc-front/internal/testutil"
)

// run executes the root command with args and returns what it printed.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, readColumn, readLimit, lsRecursive = "", "", 20, false
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func withMemoryStorage(t *testing.T) *testutil.MemoryTransport {
	t.Helper()
	tr := testutil.NewMemoryTransport()
	prev := openStorage
	openStorage = func(ctx context.Context) (*objstore.Manager, error) {
		return objstore.Connect(ctx, objstore.Options{
			Endpoint:  "minio.test:9000",
			AccessKey: "access",
			SecretKey: "secret",
		}, objstore.WithTransportFactory(tr.Factory()))
	}
	t.Cleanup(func() { openStorage = prev })
	return tr
}

func TestConfigInitThenValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	out, err := run(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Generated default config")

	out, err = run(t, "config", "validate", "--config", path)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Result: PASS")
}

func TestGeneratedConfigLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, generateDefaultConfig(path))

	for _, name := range []string{
		"RNC_SECRET_KEY", "AZURE_TENANT_ID", "AZURE_CLIENT_ID", "AZURE_CLIENT_SECRET",
		"MINIO_ENDPOINT", "MINIO_ACCESS_KEY", "MINIO_SECRET_KEY", "SUPABASE_DB_URL",
	} {
		t.Setenv(name, "value-for-"+name+"-0123456789abcdef0123456789")
	}

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultAttachmentsBucket, cfg.Storage.AttachmentsBucket)
	assert.Equal(t, "@example.com", cfg.Auth.AllowedDomain)
	assert.Equal(t, config.SessionStoreMemory, cfg.App.SessionStore)
}

func TestConfigValidate_Failure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": "rnc-front/v1"}`), 0o600))

	out, err := run(t, "config", "validate", "--config", path)
	require.Error(t, err)
	assert.Contains(t, out, "Result: FAIL")
	assert.Contains(t, out, "app:")
}

func TestConfigValidate_RequiresPath(t *testing.T) {
	_, err := run(t, "config", "validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--config")
}

func TestStorageBucketsAndAttachments(t *testing.T) {
	tr := withMemoryStorage(t)
	tr.Put("rnc-anexos", "7_1.pdf", []byte("a"))
	tr.Put("rnc-anexos", "7_2.png", []byte("b"))
	tr.Put("rnc-anexos", "70_1.pdf", []byte("c"))

	out, err := run(t, "storage", "buckets")
	require.NoError(t, err)
	assert.Contains(t, out, "rnc-anexos")

	out, err = run(t, "storage", "attachments", "rnc-anexos", "7")
	require.NoError(t, err)
	assert.Equal(t, "7_1.pdf\n7_2.png\n", out)

	out, err = run(t, "storage", "ls", "rnc-anexos")
	require.NoError(t, err)
	assert.Contains(t, out, "70_1.pdf")
}

func TestStorageUploadDownload(t *testing.T) {
	tr := withMemoryStorage(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "laudo.txt")
	require.NoError(t, os.WriteFile(src, []byte("conteudo"), 0o600))

	out, err := run(t, "storage", "upload", src, "rnc-anexos", "9_1.txt")
	require.NoError(t, err)
	assert.Contains(t, out, "Uploaded rnc-anexos/9_1.txt (8 bytes)")

	data, ok := tr.Object("rnc-anexos", "9_1.txt")
	require.True(t, ok)
	assert.Equal(t, "conteudo", string(data))

	dst := filepath.Join(dir, "out", "copia.txt")
	_, err = run(t, "storage", "download", "rnc-anexos", "9_1.txt", dst)
	require.NoError(t, err)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "conteudo", string(got))
}

func TestStorageCat(t *testing.T) {
	tr := withMemoryStorage(t)
	tr.Put("rnc-anexos", "4_1.txt", []byte("laudo tecnico\n"))

	out, err := run(t, "storage", "cat", "rnc-anexos", "4_1.txt")
	require.NoError(t, err)
	assert.Equal(t, "laudo tecnico\n", out)

	opened, released := tr.Streams()
	assert.Equal(t, 1, opened)
	assert.Equal(t, opened, released)

	_, err = run(t, "storage", "cat", "rnc-anexos", "missing.txt")
	var opErr *objstore.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, objstore.OpOpen, opErr.Op)
}

func TestStorageRm(t *testing.T) {
	tr := withMemoryStorage(t)
	tr.Put("rnc-anexos", "5_1.pdf", []byte("a"))
	tr.Put("rnc-anexos", "5_2.pdf", []byte("b"))
	tr.Put("rnc-anexos", "6_1.pdf", []byte("c"))

	out, err := run(t, "storage", "rm", "rnc-anexos", "5_1.pdf", "5_2.pdf")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed rnc-anexos/5_1.pdf")
	assert.Contains(t, out, "Removed rnc-anexos/5_2.pdf")

	_, ok := tr.Object("rnc-anexos", "5_1.pdf")
	assert.False(t, ok)
	_, ok = tr.Object("rnc-anexos", "5_2.pdf")
	assert.False(t, ok)
	_, ok = tr.Object("rnc-anexos", "6_1.pdf")
	assert.True(t, ok)

	_, err = run(t, "storage", "rm", "rnc-anexos")
	require.Error(t, err)
}

func TestStoragePresign(t *testing.T) {
	tr := withMemoryStorage(t)
	tr.Put("rnc-anexos", "3_1.pdf", []byte("x"))

	out, err := run(t, "storage", "presign", "rnc-anexos", "3_1.pdf", "--hours", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "rnc-anexos/3_1.pdf")

	_, err = run(t, "storage", "presign", "rnc-anexos", "3_1.pdf", "--hours", "500")
	require.ErrorIs(t, err, objstore.ErrInvalidExpiry)
}

func TestStorageRead(t *testing.T) {
	tr := withMemoryStorage(t)
	tr.Put("calculation-view", "filiais.csv", []byte("ID,TXTMD_1\n1,Matriz\n2,Filial Sul\n"))

	out, err := run(t, "storage", "read", "calculation-view", "filiais.csv", "--column", "TXTMD_1")
	require.NoError(t, err)
	assert.Equal(t, "Matriz\nFilial Sul\n", out)

	_, err = run(t, "storage", "read", "calculation-view", "filiais.csv", "--column", "NOPE")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TXTMD_1")
}
