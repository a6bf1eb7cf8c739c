// Package store persists settled match results and standings snapshots
// to SQLite, giving the coordinator a durable record that survives
// restarts.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/leagueflow/protocol"
)

// MatchRecord is one settled match row.
type MatchRecord struct {
	ID          uint   `gorm:"primaryKey"`
	LeagueID    string `gorm:"uniqueIndex:idx_league_match,priority:1;size:64"`
	MatchID     string `gorm:"uniqueIndex:idx_league_match,priority:2;size:32"`
	Round       int
	SideAID     string `gorm:"size:64"`
	SideBID     string `gorm:"size:64"`
	SideAChoice string `gorm:"size:8"`
	SideBChoice string `gorm:"size:8"`
	DrawnNumber int
	WinnerID    string `gorm:"size:64"`
	SideAResult string `gorm:"size:16"`
	SideBResult string `gorm:"size:16"`
	Failure     string `gorm:"size:32"`
	CreatedAt   time.Time
}

// StandingRecord is one participant's row in the latest standings
// snapshot for a league.
type StandingRecord struct {
	ID            uint   `gorm:"primaryKey"`
	LeagueID      string `gorm:"uniqueIndex:idx_league_participant,priority:1;size:64"`
	ParticipantID string `gorm:"uniqueIndex:idx_league_participant,priority:2;size:64"`
	Rank          int
	Played        int
	Wins          int
	Draws         int
	Losses        int
	Points        int
	UpdatedAt     time.Time
}

// Store wraps the SQLite-backed GORM connection.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open opens (or creates) the database at path and migrates the schema.
// Use ":memory:" for an in-memory database.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	if err := db.AutoMigrate(&MatchRecord{}, &StandingRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveResult upserts one settled match. Replaying the same report is
// idempotent.
func (s *Store) SaveResult(ctx context.Context, report protocol.ResultReport) error {
	record := MatchRecord{
		LeagueID:    report.LeagueID,
		MatchID:     report.MatchID,
		Round:       report.RoundID,
		SideAID:     report.SideAID,
		SideBID:     report.SideBID,
		SideAChoice: string(report.SideAChoice),
		SideBChoice: string(report.SideBChoice),
		DrawnNumber: report.DrawnNumber,
		WinnerID:    report.WinnerID,
		SideAResult: string(report.SideAResult),
		SideBResult: string(report.SideBResult),
		Failure:     report.Failure,
	}
	err := s.db.WithContext(ctx).
		Where("league_id = ? AND match_id = ?", record.LeagueID, record.MatchID).
		Assign(record).
		FirstOrCreate(&MatchRecord{}).Error
	if err != nil {
		return fmt.Errorf("save result %s: %w", report.MatchID, err)
	}
	return nil
}

// SaveStandings replaces the league's standings snapshot.
func (s *Store) SaveStandings(ctx context.Context, leagueID string, entries []protocol.StandingEntry) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("league_id = ?", leagueID).Delete(&StandingRecord{}).Error; err != nil {
			return fmt.Errorf("clear standings: %w", err)
		}
		for _, e := range entries {
			record := StandingRecord{
				LeagueID:      leagueID,
				ParticipantID: e.ParticipantID,
				Rank:          e.Rank,
				Played:        e.Played,
				Wins:          e.Wins,
				Draws:         e.Draws,
				Losses:        e.Losses,
				Points:        e.Points,
			}
			if err := tx.Create(&record).Error; err != nil {
				return fmt.Errorf("save standing for %s: %w", e.ParticipantID, err)
			}
		}
		return nil
	})
}

// Results returns the league's settled matches in play order.
func (s *Store) Results(ctx context.Context, leagueID string) ([]MatchRecord, error) {
	var records []MatchRecord
	err := s.db.WithContext(ctx).
		Where("league_id = ?", leagueID).
		Order("id").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}
	return records, nil
}

// Standings returns the league's latest snapshot ordered by rank.
func (s *Store) Standings(ctx context.Context, leagueID string) ([]protocol.StandingEntry, error) {
	var records []StandingRecord
	err := s.db.WithContext(ctx).
		Where("league_id = ?", leagueID).
		Order("rank").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("load standings: %w", err)
	}
	entries := make([]protocol.StandingEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, protocol.StandingEntry{
			Rank:          r.Rank,
			ParticipantID: r.ParticipantID,
			Played:        r.Played,
			Wins:          r.Wins,
			Draws:         r.Draws,
			Losses:        r.Losses,
			Points:        r.Points,
		})
	}
	return entries, nil
}
