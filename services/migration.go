package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"jiratoshortcut/api"
	"jiratoshortcut/config"
	"jiratoshortcut/utils"
)

// sourceChecker はJIRAクライアントの認証チェックです (XMLエクスポートにはありません)
type sourceChecker interface {
	CheckAuth(ctx context.Context) error
	ServerInfo(ctx context.Context) (*api.JiraServerInfo, error)
}

// destinationChecker はShortcutクライアントの認証チェックです
type destinationChecker interface {
	CheckAuth(ctx context.Context) (*api.ShortcutMember, error)
}

// MigrationService はJIRAからShortcutへの移行 (test / dryrun / migrate) を処理します
type MigrationService struct {
	config  *config.Config
	mapping *config.Mapping
	source  SourceClient
	dest    DestinationClient
	out     io.Writer
}

// NewMigrationService は新しい移行サービスを作成します
func NewMigrationService(cfg *config.Config, mapping *config.Mapping, source SourceClient, dest DestinationClient, out io.Writer) *MigrationService {
	return &MigrationService{
		config:  cfg,
		mapping: mapping,
		source:  source,
		dest:    dest,
		out:     out,
	}
}

// SelectProjects は移行対象のプロジェクトキーを返します
// 設定 (フラグ・環境変数・設定ファイル) で指定がなければマッピングの projects セクションの全キーです
func (m *MigrationService) SelectProjects() []string {
	if len(m.config.Projects) > 0 {
		return m.config.Projects
	}
	return m.mapping.ProjectKeys()
}

// Test は両方の認証情報を確認し、JIRAのプロジェクトとマッピングの対応を表示します
func (m *MigrationService) Test(ctx context.Context) error {
	if checker, ok := m.source.(sourceChecker); ok {
		if err := checker.CheckAuth(ctx); err != nil {
			return fmt.Errorf("JIRA認証エラー: %w", err)
		}
		utils.LogInfo("JIRA認証成功")
		if info, err := checker.ServerInfo(ctx); err == nil {
			fmt.Fprintf(m.out, "JIRA: %s (バージョン %s, %s)\n", info.BaseURL, info.Version, info.DeploymentType)
		} else {
			utils.LogWarn("JIRAサーバー情報を取得できません: %v", err)
		}
	} else {
		fmt.Fprintf(m.out, "JIRA: XMLエクスポート %s\n", m.config.JiraExportFile)
	}

	if checker, ok := m.dest.(destinationChecker); ok {
		member, err := checker.CheckAuth(ctx)
		if err != nil {
			return fmt.Errorf("Shortcut認証エラー: %w", err)
		}
		utils.LogInfo("Shortcut認証成功")
		fmt.Fprintf(m.out, "Shortcut: %s (@%s)\n", member.Profile.Name, member.Profile.MentionName)
	}

	projects, err := m.source.GetProjects(ctx)
	if err != nil {
		return fmt.Errorf("JIRAプロジェクト一覧取得エラー: %w", err)
	}
	fmt.Fprintf(m.out, "マッピング: users=%d, statuses=%d, epic-statuses=%d\n",
		m.mapping.Len(config.SectionUsers), m.mapping.Len(config.SectionStatuses), m.mapping.Len(config.SectionEpicStatuses))
	for _, p := range projects {
		if name, ok := m.mapping.MapProject(p.Key); ok {
			fmt.Fprintf(m.out, "  %-10s %s → %s\n", p.Key, p.Name, name)
		} else {
			fmt.Fprintf(m.out, "  %-10s %s (マッピングなし)\n", p.Key, p.Name)
		}
	}
	return nil
}

// DryRun はShortcutへ書き込まずに移行内容を表示します
func (m *MigrationService) DryRun(ctx context.Context) error {
	startTime := time.Now()
	defer utils.TrackTime(startTime, "ドライラン")

	recorder := NewRecordingDestination(m.dest)
	run := m.newRun(recorder)

	var errs []error
	for _, key := range m.SelectProjects() {
		project, err := NewBuilder(run).Build(ctx, key)
		if err != nil {
			utils.LogError("プロジェクト %s の読み込みに失敗しました: %v", key, err)
			errs = append(errs, &EntityError{Kind: EntityProject, Key: key, Err: err})
			continue
		}

		recorder.Reset()
		if _, err := NewExporter(run).Export(ctx, project); err != nil {
			errs = append(errs, err)
		}
		WriteReport(m.out, project, ComputeStats(project), recorder.Operations())
	}
	return errors.Join(errs...)
}

// Migrate は対象プロジェクトを順に読み込み、Shortcutへ書き込みます
// 結果は移行台帳CSVに記録します
func (m *MigrationService) Migrate(ctx context.Context) error {
	startTime := time.Now()
	defer utils.TrackTime(startTime, "移行処理全体")

	run := m.newRun(m.dest)
	ledger := NewLedger(m.config.LedgerCSV)

	var (
		errs    []error
		entries []LedgerEntry
	)
	for _, key := range m.SelectProjects() {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		project, err := NewBuilder(run).Build(ctx, key)
		if err != nil {
			utils.LogError("プロジェクト %s の読み込みに失敗しました: %v", key, err)
			errs = append(errs, &EntityError{Kind: EntityProject, Key: key, Err: err})
			entries = append(entries, LedgerEntry{SourceKey: key, Kind: EntityProject, Outcome: OutcomeFailed})
			continue
		}

		result, err := NewExporter(run).Export(ctx, project)
		if result != nil {
			entries = append(entries, result.Entries...)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	if m.config.LedgerCSV != "" && len(entries) > 0 {
		if err := ledger.Update(entries); err != nil {
			errs = append(errs, fmt.Errorf("移行台帳書き込みエラー: %w", err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	utils.LogInfo("移行処理が完了しました")
	return nil
}

func (m *MigrationService) newRun(dest DestinationClient) *RunContext {
	return NewRunContext(m.source, dest, m.mapping, RunSettings{
		Workflow:          m.config.ShortcutWorkflow,
		TeamID:            m.config.ShortcutTeamID,
		AttachmentsFolder: m.config.AttachmentsFolder,
	})
}
