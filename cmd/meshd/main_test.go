package main

import "testing"

func TestRootCmdRegistersServeAndQuery(t *testing.T) {
	names := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}
	if !names["serve"] {
		t.Error("serve command not registered on rootCmd")
	}
	if !names["query"] {
		t.Error("query command not registered on rootCmd")
	}
}

func TestQueryCmdRequiresAtLeastOneArg(t *testing.T) {
	if err := queryCmd.Args(queryCmd, nil); err == nil {
		t.Error("expected an error when query is called with no arguments")
	}
	if err := queryCmd.Args(queryCmd, []string{"AI funding"}); err != nil {
		t.Errorf("expected one argument to be accepted, got %v", err)
	}
}
