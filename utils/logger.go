package utils

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
)

// Logger はパッケージ全体で使うロガーです
var Logger *slog.Logger

// init関数はパッケージがインポートされたときに自動的に実行されます
func init() {
	SetupLogger(os.Stderr, false)
}

// SetupLogger はログの出力先とレベルを設定します
// verbose が true の場合はデバッグログ (HTTPリクエスト) も出力します
func SetupLogger(w io.Writer, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	Logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// LogDebug はデバッグレベルのメッセージをログに記録します
func LogDebug(format string, v ...interface{}) {
	Logger.Debug(fmt.Sprintf(format, v...))
}

// LogInfo は情報レベルのメッセージをログに記録します
func LogInfo(format string, v ...interface{}) {
	Logger.Info(fmt.Sprintf(format, v...))
}

// LogWarn は警告レベルのメッセージをログに記録します
func LogWarn(format string, v ...interface{}) {
	Logger.Warn(fmt.Sprintf(format, v...))
}

// LogError はエラーレベルのメッセージをログに記録します
func LogError(format string, v ...interface{}) {
	Logger.Error(fmt.Sprintf(format, v...))
}

// TrackTime は関数の実行時間を計測して出力するユーティリティです
func TrackTime(start time.Time, name string) {
	elapsed := time.Since(start)
	Logger.Info(name+" 完了", "elapsed", elapsed.Round(time.Millisecond).String())
}

// HumanSize はバイト数を読みやすい形式 (1.2 MB) に変換します
func HumanSize(size int64) string {
	if size < 0 {
		size = 0
	}
	return humanize.Bytes(uint64(size))
}
