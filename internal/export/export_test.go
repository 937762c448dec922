package export

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoice-collector/internal/config"
	"invoice-collector/internal/models"
)

var sample = []models.Invoice{
	{InvoiceID: "INV-001", Customer: "Acme, Inc.", Amount: "$1,200.00", PaidAt: "2025-03-01", Status: "Paid"},
	{InvoiceID: "INV-007", Customer: "Globex", Amount: "$40.00", PaidAt: "2025-03-04", Status: "Partially Paid"},
}

func TestOutputPath(t *testing.T) {
	testCases := []struct {
		key  string
		want string
	}{
		{key: "", want: filepath.Join("out", "invoices.csv")},
		{key: "daily-2025-03-01", want: filepath.Join("out", "invoices_daily-2025-03-01.csv")},
		{key: "../../etc/passwd", want: filepath.Join("out", "invoices_etc_passwd.csv")},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, OutputPath("out", tc.key), "key %q", tc.key)
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collected_data", "invoices.csv")

	body, err := WriteFile(path, sample)
	require.NoError(t, err)

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, body, onDisk)

	want := "invoice_id,customer,amount,paid_at,status\n" +
		"INV-001,\"Acme, Inc.\",\"$1,200.00\",2025-03-01,Paid\n" +
		"INV-007,Globex,$40.00,2025-03-04,Partially Paid\n"
	assert.Equal(t, want, string(onDisk))
}

func TestWriteFile_EmptyHasHeaderOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invoices.csv")
	body, err := WriteFile(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "invoice_id,customer,amount,paid_at,status\n", string(body))
}

func TestLocalUploader(t *testing.T) {
	base := t.TempDir()
	u := &LocalUploader{BaseDir: base}

	dest, err := Ship(context.Background(), u, "/tmp/run/invoices_daily.csv", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "invoices_daily.csv"), dest)

	dest, err = u.Upload(context.Background(), "../../escape.csv", []byte("y"), csvContentType)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "escape.csv"), dest, "keys never leave the base directory")
}

func TestNewUploader(t *testing.T) {
	u, err := NewUploader(context.Background(), config.Config{})
	require.NoError(t, err)
	assert.Nil(t, u)

	u, err = NewUploader(context.Background(), config.Config{ArchiveDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalUploader{}, u)
}

func TestS3Uploader_PutsUnderPrefix(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(t.TempDir(), "none"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "none"))

	var gotPath, gotMethod, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u, err := NewUploader(context.Background(), config.Config{
		S3Bucket:    "exports",
		S3Region:    "us-east-1",
		S3Endpoint:  srv.URL,
		S3PathStyle: true,
		S3Prefix:    "invoices/",
	})
	require.NoError(t, err)

	dest, err := Ship(context.Background(), u, "collected_data/invoices_daily.csv", []byte("invoice_id,customer\n"))
	require.NoError(t, err)
	assert.Equal(t, "s3://exports/invoices/invoices_daily.csv", dest)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/exports/invoices/invoices_daily.csv", gotPath)
	assert.True(t, strings.Contains(gotBody, "invoice_id"))
}
