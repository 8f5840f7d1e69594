package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// JIRA API設定
	JiraURL   string
	JiraUser  string
	JiraToken string

	// オフライン移行用のJIRA XMLエクスポート (指定時はAPIの代わりに使用)
	JiraExportFile     string
	JiraAttachmentsDir string

	// Shortcut API設定
	ShortcutToken    string
	ShortcutEndpoint string
	ShortcutWorkflow string
	ShortcutTeamID   string

	// ファイルパス
	MappingFile       string
	AttachmentsFolder string
	LedgerCSV         string

	// 移行対象のJIRAプロジェクトキー
	Projects []string

	Verbose bool
}

// ConfigError は設定ファイルやマッピングファイルの不備を表します
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("設定エラー: %v", e.Err)
	}
	return fmt.Sprintf("設定エラー (%s): %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// DefaultShortcutEndpoint はShortcut REST API v3 のエンドポイントです
const DefaultShortcutEndpoint = "https://api.app.shortcut.com/api/v3"

// envBindings は設定キーと環境変数の対応です
var envBindings = map[string]string{
	"jira.url":             "JIRA_URL",
	"jira.user":            "JIRA_USER",
	"jira.token":           "JIRA_TOKEN",
	"jira.export_file":     "JIRA_EXPORT_FILE",
	"jira.attachments_dir": "JIRA_ATTACHMENTS_DIR",
	"shortcut.token":       "SHORTCUT_TOKEN",
	"shortcut.endpoint":    "SHORTCUT_ENDPOINT",
	"shortcut.workflow":    "SHORTCUT_WORKFLOW",
	"shortcut.team_id":     "SHORTCUT_TEAM_ID",
	"mapping_file":         "MAPPING_FILE",
	"attachments_folder":   "ATTACHMENTS_FOLDER",
	"ledger_csv":           "LEDGER_CSV",
	"projects":             "JIRA_PROJECTS",
	"verbose":              "VERBOSE",
}

// NewViper は既定値と環境変数を登録したviperインスタンスを作成します
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("shortcut.endpoint", DefaultShortcutEndpoint)
	v.SetDefault("mapping_file", "mapping.yaml")
	v.SetDefault("attachments_folder", "attachments")
	v.SetDefault("ledger_csv", "migration_ledger.csv")
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
	return v
}

// LoadConfig は .env・環境変数・設定ファイル・フラグから設定を読み込みます
// v にはフラグがバインド済みのインスタンスを渡せます (nilなら新規作成)
func LoadConfig(v *viper.Viper, configFile string) (*Config, error) {
	// .envファイルを読み込む
	_ = godotenv.Load()

	if v == nil {
		v = NewViper()
	}

	if configFile != "" {
		if _, err := os.Stat(configFile); err != nil {
			return nil, &ConfigError{Path: configFile, Err: err}
		}
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, &ConfigError{Path: configFile, Err: err}
		}
	}

	config := &Config{
		JiraURL:            strings.TrimRight(v.GetString("jira.url"), "/"),
		JiraUser:           v.GetString("jira.user"),
		JiraToken:          v.GetString("jira.token"),
		JiraExportFile:     v.GetString("jira.export_file"),
		JiraAttachmentsDir: v.GetString("jira.attachments_dir"),
		ShortcutToken:      v.GetString("shortcut.token"),
		ShortcutEndpoint:   strings.TrimRight(getWithDefault(v, "shortcut.endpoint", DefaultShortcutEndpoint), "/"),
		ShortcutWorkflow:   v.GetString("shortcut.workflow"),
		ShortcutTeamID:     v.GetString("shortcut.team_id"),
		MappingFile:        v.GetString("mapping_file"),
		AttachmentsFolder:  v.GetString("attachments_folder"),
		LedgerCSV:          v.GetString("ledger_csv"),
		Projects:           splitList(v.GetStringSlice("projects")),
		Verbose:            v.GetBool("verbose"),
	}

	return config, nil
}

// UsesExport はJIRA APIの代わりにXMLエクスポートを使うかどうかを返します
func (c *Config) UsesExport() bool {
	return c.JiraExportFile != ""
}

// Validate は実行に必要な設定が揃っているかを確認します
// needDestination が false の場合はShortcutの認証情報を要求しません
func (c *Config) Validate(needDestination bool) error {
	var missing []string
	if c.UsesExport() {
		if _, err := os.Stat(c.JiraExportFile); err != nil {
			return &ConfigError{Path: c.JiraExportFile, Err: err}
		}
	} else {
		if c.JiraURL == "" {
			missing = append(missing, "JIRA_URL")
		}
		if c.JiraToken == "" {
			missing = append(missing, "JIRA_TOKEN")
		}
	}
	if needDestination && c.ShortcutToken == "" {
		missing = append(missing, "SHORTCUT_TOKEN")
	}
	if len(missing) > 0 {
		return &ConfigError{Err: fmt.Errorf("必須の設定がありません: %s", strings.Join(missing, ", "))}
	}
	if c.MappingFile == "" {
		return &ConfigError{Err: errors.New("マッピングファイルが指定されていません")}
	}
	if _, err := os.Stat(c.MappingFile); err != nil {
		return &ConfigError{Path: c.MappingFile, Err: err}
	}
	return nil
}

// デフォルト値付きで設定値を取得
func getWithDefault(v *viper.Viper, key, defaultValue string) string {
	value := v.GetString(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// 環境変数のカンマ区切りとYAMLのリストの両方を受け付ける
func splitList(values []string) []string {
	var result []string
	for _, value := range values {
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				result = append(result, item)
			}
		}
	}
	return result
}
