package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/roster/batch"
	"github.com/nomis52/roster/roster"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestReadRequest(t *testing.T) {
	path := writeFile(t, `
role: student
enrolled_class_id: class-7a
available_modules: [algebra, geometry]
account_expiration_date: 2027-07-31T00:00:00Z
users:
  - email: alice@school.org
    name: Alice
  - email: bob@school.org
    name: Bob
`)

	req, err := readRequest(path)
	require.NoError(t, err)
	assert.Equal(t, roster.Role("student"), req.Role)
	assert.Equal(t, "class-7a", req.EnrolledClassID)
	assert.Equal(t, []string{"algebra", "geometry"}, req.AvailableModules)
	require.NotNil(t, req.AccountExpiration)
	assert.True(t, req.AccountExpiration.Equal(time.Date(2027, 7, 31, 0, 0, 0, 0, time.UTC)))
	require.Len(t, req.Users, 2)
	assert.Equal(t, batch.UserInput{Email: "bob@school.org", Name: "Bob"}, req.Users[1])
}

func TestReadRequest_Errors(t *testing.T) {
	tests := []struct {
		name    string
		path    func(t *testing.T) string
		wantErr string
	}{
		{
			name:    "missing file",
			path:    func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.yaml") },
			wantErr: "failed to read input file",
		},
		{
			name:    "unknown field",
			path:    func(t *testing.T) string { return writeFile(t, "role: student\nclass: 7a\n") },
			wantErr: "failed to parse input file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readRequest(tt.path(t))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWriteReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, batch.Outcome{
		Created: []roster.Profile{},
		Failed:  []batch.FailedItem{{UserInput: batch.UserInput{Email: "bob@school.org"}, Reason: "User already exists"}},
		Message: "Created 0 of 1 accounts, 1 failed",
	}))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "Created 0 of 1 accounts, 1 failed", got["message"])
	assert.Len(t, got["failed"], 1)
}
