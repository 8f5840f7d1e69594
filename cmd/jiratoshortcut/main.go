package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"jiratoshortcut/api"
	"jiratoshortcut/config"
	"jiratoshortcut/services"
	"jiratoshortcut/utils"
)

const version = "1.0.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		utils.LogError("%v", err)
		os.Exit(1)
	}
}

// newRootCmd はサブコマンド test / dryrun / migrate を持つルートコマンドを作成します
func newRootCmd() *cobra.Command {
	v := config.NewViper()
	var configFile string

	root := &cobra.Command{
		Use:           "jiratoshortcut",
		Short:         "JIRA → Shortcut 移行ツール",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `JIRAのプロジェクト (エピック・ストーリー・サブタスク・コメント・添付ファイル・リンク) を
マッピングファイルに従ってShortcutへ移行します。

設定は .env・環境変数・設定ファイル (--config)・フラグの順に上書きされます。

環境変数:
  JIRA_URL            JIRA URL
  JIRA_USER           JIRAユーザー (空ならトークンをBearerで送信)
  JIRA_TOKEN          JIRA APIトークン
  JIRA_EXPORT_FILE    JIRAのXMLエクスポート (指定時はAPIの代わりに使用)
  SHORTCUT_TOKEN      Shortcut APIトークン (必須)
  SHORTCUT_WORKFLOW   ストーリーに使うワークフロー名 (デフォルト: 最初のワークフロー)
  MAPPING_FILE        マッピングファイル (デフォルト: mapping.yaml)
  JIRA_PROJECTS       移行するプロジェクトキー (カンマ区切り)`,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "設定ファイル (YAML/JSON)")
	flags.String("mapping", "", "マッピングファイル")
	flags.StringSlice("project", nil, "移行するJIRAプロジェクトキー (複数指定可)")
	flags.String("jira-url", "", "JIRA URL")
	flags.String("jira-user", "", "JIRAユーザー")
	flags.String("jira-token", "", "JIRA APIトークン")
	flags.String("jira-export", "", "JIRAのXMLエクスポートファイル")
	flags.String("jira-attachments", "", "XMLエクスポートの添付ファイルフォルダ")
	flags.String("shortcut-token", "", "Shortcut APIトークン")
	flags.String("shortcut-workflow", "", "ストーリーに使うワークフロー名")
	flags.String("attachments", "", "添付ファイルの保存フォルダ")
	flags.String("ledger", "", "移行台帳CSVファイル")
	flags.BoolP("verbose", "v", false, "デバッグログを出力する")

	bindings := map[string]string{
		"mapping_file":         "mapping",
		"projects":             "project",
		"jira.url":             "jira-url",
		"jira.user":            "jira-user",
		"jira.token":           "jira-token",
		"jira.export_file":     "jira-export",
		"jira.attachments_dir": "jira-attachments",
		"shortcut.token":       "shortcut-token",
		"shortcut.workflow":    "shortcut-workflow",
		"attachments_folder":   "attachments",
		"ledger_csv":           "ledger",
		"verbose":              "verbose",
	}
	for key, flag := range bindings {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(
		newActionCmd(v, &configFile, "test", "認証情報とマッピングを確認する",
			func(ctx context.Context, s *services.MigrationService) error { return s.Test(ctx) }),
		newActionCmd(v, &configFile, "dryrun", "Shortcutに書き込まずに移行内容を表示する",
			func(ctx context.Context, s *services.MigrationService) error { return s.DryRun(ctx) }),
		newActionCmd(v, &configFile, "migrate", "JIRAからShortcutへ移行する",
			func(ctx context.Context, s *services.MigrationService) error { return s.Migrate(ctx) }),
	)
	return root
}

func newActionCmd(v *viper.Viper, configFile *string, use, short string, action func(context.Context, *services.MigrationService) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			service, err := setup(v, *configFile, cmd)
			if err != nil {
				return err
			}
			return action(cmd.Context(), service)
		},
	}
}

// setup は設定とマッピングを読み込み、クライアントとサービスを初期化します
func setup(v *viper.Viper, configFile string, cmd *cobra.Command) (*services.MigrationService, error) {
	cfg, err := config.LoadConfig(v, configFile)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗しました: %w", err)
	}
	utils.SetupLogger(cmd.ErrOrStderr(), cfg.Verbose)
	utils.LogInfo("JIRA → Shortcut 移行ツール (v%s)", version)

	if err := cfg.Validate(true); err != nil {
		return nil, err
	}

	mapping, err := config.LoadMapping(cfg.MappingFile)
	if err != nil {
		return nil, err
	}

	var source services.SourceClient
	if cfg.UsesExport() {
		xmlSource, err := api.LoadXMLSource(cfg.JiraExportFile, cfg.JiraAttachmentsDir)
		if err != nil {
			return nil, err
		}
		source = xmlSource
	} else {
		source = api.NewJiraClient(cfg)
	}

	dest := api.NewShortcutClient(cfg)
	return services.NewMigrationService(cfg, mapping, source, dest, cmd.OutOrStdout()), nil
}
