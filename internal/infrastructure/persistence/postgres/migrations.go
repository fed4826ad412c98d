// Package postgres implements the PostgreSQL persistence layer.
package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE LEARNING
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create learning tables
-- Version: 001
-- Purpose: Per-concept progress state machine and event deduplication

-- One row per (student, concept) pair. The status column follows the
-- monotone progression: transitions never move a concept backwards.
CREATE TABLE IF NOT EXISTS concept_progress (
    student_id VARCHAR(64) NOT NULL,
    concept_id VARCHAR(64) NOT NULL,
    subject_id VARCHAR(64) NOT NULL DEFAULT '',
    status VARCHAR(20) NOT NULL DEFAULT 'not_started',
    attempts INTEGER NOT NULL DEFAULT 0,
    best_score DOUBLE PRECISION,
    last_score DOUBLE PRECISION,
    total_time_spent_ms BIGINT NOT NULL DEFAULT 0,
    started_at TIMESTAMP WITH TIME ZONE,
    completed_at TIMESTAMP WITH TIME ZONE,
    mastered_at TIMESTAMP WITH TIME ZONE,
    last_accessed TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (student_id, concept_id),

    CONSTRAINT valid_progress_status CHECK (status IN ('not_started', 'started', 'completed', 'mastered')),
    CONSTRAINT valid_attempts CHECK (attempts >= 0),
    CONSTRAINT valid_best_score CHECK (best_score IS NULL OR (best_score >= 0 AND best_score <= 1)),
    CONSTRAINT valid_last_score CHECK (last_score IS NULL OR (last_score >= 0 AND last_score <= 1)),
    CONSTRAINT valid_time_spent CHECK (total_time_spent_ms >= 0)
);

CREATE INDEX IF NOT EXISTS idx_concept_progress_subject ON concept_progress(student_id, subject_id);
CREATE INDEX IF NOT EXISTS idx_concept_progress_status ON concept_progress(student_id, status);
CREATE INDEX IF NOT EXISTS idx_concept_progress_mastered ON concept_progress(student_id, mastered_at) WHERE mastered_at IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_concept_progress_accessed ON concept_progress(student_id, last_accessed DESC);

-- Deduplication ledger: every applied event is recorded together with its
-- serialized result so a replayed event_id returns the original outcome.
CREATE TABLE IF NOT EXISTS processed_events (
    student_id VARCHAR(64) NOT NULL,
    event_id VARCHAR(128) NOT NULL,
    result JSONB NOT NULL,
    applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (student_id, event_id)
);

CREATE INDEX IF NOT EXISTS idx_processed_events_applied_at ON processed_events(applied_at);
`

const migration001Down = `
DROP TABLE IF EXISTS processed_events;
DROP TABLE IF EXISTS concept_progress;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE GAMIFICATION
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create gamification tables
-- Version: 002
-- Purpose: Points accounts, append-only ledger, streaks and badge awards

-- Materialized running totals. The ledger is the source of truth;
-- total_points must always equal the sum of the student's ledger rows.
CREATE TABLE IF NOT EXISTS points_accounts (
    student_id VARCHAR(64) PRIMARY KEY,
    total_points INTEGER NOT NULL DEFAULT 0,
    lifetime_points INTEGER NOT NULL DEFAULT 0,
    total_reached_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_lifetime_points CHECK (lifetime_points >= 0)
);

-- Composite index serves the all-time leaderboard: ties on points are
-- broken by the earlier time the total was reached.
CREATE INDEX IF NOT EXISTS idx_points_accounts_top ON points_accounts(total_points DESC, total_reached_at ASC, student_id ASC);

-- Append-only journal of every award. No UPDATE or DELETE paths exist;
-- corrections are written as compensating entries.
CREATE TABLE IF NOT EXISTS points_ledger (
    id UUID PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL,
    amount INTEGER NOT NULL,
    reason VARCHAR(30) NOT NULL,
    concept_id VARCHAR(64) NOT NULL DEFAULT '',
    badge_id VARCHAR(64) NOT NULL DEFAULT '',
    source_event_id VARCHAR(128) NOT NULL DEFAULT '',
    note TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_points_ledger_student ON points_ledger(student_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_points_ledger_created_at ON points_ledger(created_at);

-- Streaks track consecutive active days. Dates carry no time component.
CREATE TABLE IF NOT EXISTS streaks (
    student_id VARCHAR(64) PRIMARY KEY,
    current_streak INTEGER NOT NULL DEFAULT 0,
    longest_streak INTEGER NOT NULL DEFAULT 0,
    last_activity_date DATE,
    streak_started_date DATE,
    total_active_days INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_current_streak CHECK (current_streak >= 0),
    CONSTRAINT valid_longest_streak CHECK (longest_streak >= current_streak)
);

CREATE INDEX IF NOT EXISTS idx_streaks_current ON streaks(current_streak DESC, student_id ASC);

-- Badge awards. The award_key column is the uniqueness key: the bare badge
-- id for one-shot badges, badge_id@period for repeatable ones. The unique
-- constraint is what makes SaveAward a compare-and-set.
CREATE TABLE IF NOT EXISTS badge_awards (
    id SERIAL PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL,
    badge_id VARCHAR(64) NOT NULL,
    period VARCHAR(64) NOT NULL DEFAULT '',
    award_key VARCHAR(130) NOT NULL,
    awarded_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    UNIQUE (student_id, award_key)
);

CREATE INDEX IF NOT EXISTS idx_badge_awards_student ON badge_awards(student_id, awarded_at DESC);
`

const migration002Down = `
DROP TABLE IF EXISTS badge_awards;
DROP TABLE IF EXISTS streaks;
DROP TABLE IF EXISTS points_ledger;
DROP TABLE IF EXISTS points_accounts;
`
