package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/morkclient/internal/morktest"
)

func morkctl(t *testing.T, srv *morktest.Server, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	full := append([]string{"-url", srv.URL, "-log-level", "error"}, args...)
	err := run(context.Background(), full, strings.NewReader(stdin), &out)
	return out.String(), err
}

func TestUploadDownload(t *testing.T) {
	srv := morktest.New(t)

	out, err := morkctl(t, srv, "", "-ns", "demo", "upload", "(foo 1)", "(foo 2)")
	require.NoError(t, err)
	assert.Contains(t, out, "completed")

	_, err = morkctl(t, srv, "(bar 3)\n", "-ns", "demo", "upload", "-")
	require.NoError(t, err)

	_, err = morkctl(t, srv, "", "-ns", "demo", "transform", "(foo $x)", "(baz $x)")
	require.NoError(t, err)

	out, err = morkctl(t, srv, "", "-ns", "demo", "download")
	require.NoError(t, err)
	assert.Equal(t, "(bar 3)\n(baz 1)\n(baz 2)\n", out)
}

func TestAutoClearAndHistory(t *testing.T) {
	srv := morktest.New(t)

	out, err := morkctl(t, srv, "", "-ns", "tmp", "-clear", "-history", "upload", "(t 1)")
	require.NoError(t, err)
	assert.Contains(t, out, "upload")
	assert.Empty(t, srv.Facts("tmp"))
}

func TestExplore(t *testing.T) {
	srv := morktest.New(t)
	require.NoError(t, srv.Load("(animal cat)\n(color red)"))

	out, err := morkctl(t, srv, "", "explore")
	require.NoError(t, err)
	assert.Equal(t, "level 0\n  animal\n  color\nlevel 1\n  cat\n  red\n", out)
}

func TestStreamModes(t *testing.T) {
	for _, mode := range []string{"poll", "sse", "websocket"} {
		t.Run(mode, func(t *testing.T) {
			srv := morktest.New(t)

			out, err := morkctl(t, srv, "", "-stream", mode, "-listen", "-ns", mode, "upload", "(m 1)")
			require.NoError(t, err)
			assert.Contains(t, out, "completed")
			assert.Equal(t, []string{"(m 1)"}, srv.Facts(mode))
		})
	}

	srv := morktest.New(t)
	_, err := morkctl(t, srv, "", "-stream", "carrier-pigeon", "status")
	assert.Error(t, err)
}

func TestUsageErrors(t *testing.T) {
	srv := morktest.New(t)

	_, err := morkctl(t, srv, "")
	assert.ErrorIs(t, err, errUsage)
	_, err = morkctl(t, srv, "", "transform", "(a $x)")
	assert.ErrorIs(t, err, errUsage)
	_, err = morkctl(t, srv, "", "frobnicate")
	assert.ErrorIs(t, err, errUsage)
}
