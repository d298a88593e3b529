package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    int64
		wantErr bool
	}{
		{name: "正常系: 正の整数", in: "500", want: 500},
		{name: "異常系: ゼロ", in: "0", wantErr: true},
		{name: "異常系: 負数", in: "-10", wantErr: true},
		{name: "異常系: 小数", in: "1.5", wantErr: true},
		{name: "異常系: 数字でない", in: "lots", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAmount(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRootCmd_Args(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "異常系: reconcileにユーザーIDがない", args: []string{"reconcile"}},
		{name: "異常系: grantに量がない", args: []string{"grant", "user123"}},
		{name: "異常系: grantの量が不正", args: []string{"grant", "user123", "abc"}},
		{name: "異常系: sweepに余分な引数", args: []string{"sweep", "reservations", "now"}},
		{name: "異常系: tokenにユーザーIDがない", args: []string{"token"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCmd()
			cmd.SetOut(new(bytes.Buffer))
			cmd.SetErr(new(bytes.Buffer))
			cmd.SetArgs(tt.args)

			assert.Error(t, cmd.Execute())
		})
	}
}

func TestRootCmd_Commands(t *testing.T) {
	cmd := newRootCmd()

	for _, path := range [][]string{
		{"sweep", "reservations"},
		{"sweep", "idempotency"},
		{"sweep", "outbox"},
		{"expire", "batches"},
		{"reconcile"},
		{"grant"},
		{"token"},
	} {
		found, _, err := cmd.Find(path)
		require.NoError(t, err)
		assert.Equal(t, path[len(path)-1], found.Name())
	}
}
