package app

import (
	"strings"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want Command
	}{
		{"引数なしはserve", nil, CommandServe},
		{"serve", []string{"serve"}, CommandServe},
		{"worker", []string{"worker"}, CommandWorker},
		{"migrate", []string{"migrate"}, CommandMigrate},
		{"remind", []string{"remind"}, CommandRemind},
		{"大文字も受け付ける", []string{"REMIND"}, CommandRemind},
		{"healthcheck", []string{"healthcheck"}, CommandHealthcheck},
		{"--helpはhelp", []string{"--help"}, CommandHelp},
		{"余分な引数は無視", []string{"worker", "--flag", "value"}, CommandWorker},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.args)
			if err != nil {
				t.Fatalf("ParseCommand(%v) error: %v", tt.args, err)
			}
			if got != tt.want {
				t.Errorf("ParseCommand(%v) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

func TestParseCommand_UnknownIsError(t *testing.T) {
	// 打ち間違いでサーバーが起動しないようにする
	if cmd, err := ParseCommand([]string{"migarte"}); err == nil {
		t.Errorf("ParseCommand([migarte]) = %q, want error", cmd)
	}
}

func TestUsage_ListsEveryCommand(t *testing.T) {
	usage := Usage()
	for _, c := range commandSummaries {
		if !strings.Contains(usage, string(c.cmd)) {
			t.Errorf("Usage に %q が含まれていません:\n%s", c.cmd, usage)
		}
	}
}
