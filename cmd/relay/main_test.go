package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

const mainTestPrefix = "cmd/relay:main_test"

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

// unsetEnv removes env for the duration of the test.
func unsetEnv(t *testing.T, names ...string) {
	t.Helper()
	for _, name := range names {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func TestRootCmd_RegistersCommands(t *testing.T) {
	want := []string{"serve", "migrate", "ensure-db", "clear", "stats", "classify"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd == rootCmd {
			t.Errorf("%s - command %q not registered", mainTestPrefix, name)
		}
	}
	for _, sub := range []string{"up", "status"} {
		cmd, _, err := rootCmd.Find([]string{"migrate", sub})
		if err != nil || cmd.Name() != sub {
			t.Errorf("%s - migrate %s not registered", mainTestPrefix, sub)
		}
	}
}

func TestRootCmd_HelpMentionsEnvironment(t *testing.T) {
	for _, word := range []string{"DATABASE_URL", "COMMS_URL", "RELAY_HTTP_ADDR"} {
		if !strings.Contains(rootCmd.Long, word) {
			t.Errorf("%s - help should mention %s", mainTestPrefix, word)
		}
	}
}

func TestDBCommands_RequireDatabaseURL(t *testing.T) {
	unsetEnv(t, "DATABASE_URL")
	for _, args := range [][]string{{"migrate", "up"}, {"migrate", "status"}, {"clear"}, {"stats"}, {"ensure-db"}} {
		_, err := execute(t, args...)
		if err == nil || !strings.Contains(err.Error(), "DATABASE_URL is required") {
			t.Errorf("%s - %v: err = %v, want DATABASE_URL is required", mainTestPrefix, args, err)
		}
	}
}

func TestArgValidation(t *testing.T) {
	cases := []struct {
		cmd  *cobra.Command
		args []string
		ok   bool
	}{
		{classifyCmd, nil, false},
		{classifyCmd, []string{"a"}, true},
		{classifyCmd, []string{"a", "b"}, false},
		{ensureDBCmd, nil, true},
		{ensureDBCmd, []string{"relay_it"}, true},
		{ensureDBCmd, []string{"a", "b"}, false},
		{clearCmd, []string{"x"}, false},
	}
	for _, tc := range cases {
		err := tc.cmd.Args(tc.cmd, tc.args)
		if (err == nil) != tc.ok {
			t.Errorf("%s - %s %v: err = %v, want ok=%t", mainTestPrefix, tc.cmd.Name(), tc.args, err, tc.ok)
		}
	}
}

func TestClassifyCmd_UsesGatewayProbe(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/proc-1" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer gw.Close()

	unsetEnv(t, "DATABASE_URL", "RELAY_BOOTSTRAP_FILE")
	t.Setenv("GATEWAY_URL", gw.URL)
	t.Setenv("UPLOADER_URL", gw.URL)
	t.Setenv("PROBE_MAX_ATTEMPTS", "1")
	t.Setenv("PROBE_DELAY", "1ms")

	out, err := execute(t, "classify", "proc-1")
	if err != nil {
		t.Fatalf("%s - classify proc-1: %v", mainTestPrefix, err)
	}
	if !strings.Contains(out, "proc-1: process") {
		t.Errorf("%s - output = %q, want process", mainTestPrefix, out)
	}

	out, err = execute(t, "classify", "someone")
	if err != nil {
		t.Fatalf("%s - classify someone: %v", mainTestPrefix, err)
	}
	if !strings.Contains(out, "someone: wallet") {
		t.Errorf("%s - output = %q, want wallet", mainTestPrefix, out)
	}
}
