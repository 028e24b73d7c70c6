package app

import (
	"fmt"
	"strings"
)

// Command はサブコマンド名。
type Command string

const (
	// CommandServe はAPIサーバーとLINE Webhookを起動する。
	CommandServe Command = "serve"
	// CommandWorker は絵の仕上げ、リマインダー、クリーンアップを常駐で実行する。
	CommandWorker Command = "worker"
	// CommandMigrate はスキーマを最新まで適用する。
	CommandMigrate Command = "migrate"
	// CommandRemind は連携済みユーザーへのリマインダーを1回だけ送信する。
	CommandRemind Command = "remind"
	// CommandHealthcheck は起動中のサーバーの /health を確認する。distrolessイメージのHEALTHCHECK用。
	CommandHealthcheck Command = "healthcheck"
	// CommandHelp は使い方を表示する。
	CommandHelp Command = "help"
)

var commandSummaries = []struct {
	cmd     Command
	summary string
}{
	{CommandServe, "APIサーバーとLINE Webhookを起動する（既定）"},
	{CommandWorker, "絵の仕上げ・リマインダー・クリーンアップを実行する"},
	{CommandMigrate, "データベースマイグレーションを適用する"},
	{CommandRemind, "リマインダーを今すぐ1回送信する"},
	{CommandHealthcheck, "起動中のサーバーのヘルスチェックを行う"},
	{CommandHelp, "この使い方を表示する"},
}

// ParseCommand は先頭の引数からサブコマンドを決める。引数が無ければserve。
// 2番目以降の引数は無視する。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 || args[0] == "" {
		return CommandServe, nil
	}
	switch name := strings.ToLower(args[0]); name {
	case "-h", "--help":
		return CommandHelp, nil
	default:
		for _, c := range commandSummaries {
			if string(c.cmd) == name {
				return c.cmd, nil
			}
		}
		return "", fmt.Errorf("unknown command: %q", args[0])
	}
}

// Usage はサブコマンドの一覧を返す。
func Usage() string {
	var b strings.Builder
	b.WriteString("usage: paintedminds [command]\n\ncommands:\n")
	for _, c := range commandSummaries {
		fmt.Fprintf(&b, "  %-12s %s\n", c.cmd, c.summary)
	}
	return b.String()
}
