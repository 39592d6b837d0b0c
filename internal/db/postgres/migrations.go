// Package postgres — migrations.go содержит схему; RunMigrations применяет её
// по порядку версий.
//
// Длительности хранятся как BIGINT миллисекунд, деньги как BIGINT кредитов.
package postgres

type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{1, "leagues and budgets", migration001},
	{2, "auctions and bids", migration002},
	{3, "timers and compliance", migration003},
	{4, "rate counters", migration004},
}

var migration001 = `
CREATE TABLE IF NOT EXISTS leagues (
	id                  BIGINT PRIMARY KEY,
	name                TEXT NOT NULL,
	stage               TEXT NOT NULL DEFAULT 'setup'
		CHECK (stage IN ('setup', 'auction', 'repair', 'completed')),
	active_roles        TEXT[] NOT NULL DEFAULT '{}',
	initial_budget      BIGINT NOT NULL CHECK (initial_budget >= 0),
	min_bid             BIGINT NOT NULL DEFAULT 1,
	min_increment       BIGINT NOT NULL DEFAULT 1,
	auction_duration_ms BIGINT NOT NULL DEFAULT 86400000,
	soft_close_ms       BIGINT NOT NULL DEFAULT 0,
	response_window_ms  BIGINT NOT NULL DEFAULT 1800000,
	abandon_cooldown_ms BIGINT NOT NULL DEFAULT 3600000,
	compliance_grace_ms BIGINT NOT NULL DEFAULT 3600000,
	penalty_interval_ms BIGINT NOT NULL DEFAULT 3600000,
	penalty_amount      BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS players (
	id   BIGINT PRIMARY KEY,
	name TEXT NOT NULL,
	role TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS league_participants (
	league_id      BIGINT NOT NULL REFERENCES leagues(id),
	user_id        BIGINT NOT NULL,
	initial_budget BIGINT NOT NULL,
	current_budget BIGINT NOT NULL,
	locked_credits BIGINT NOT NULL DEFAULT 0,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (league_id, user_id),
	CHECK (locked_credits >= 0 AND locked_credits <= current_budget)
);

CREATE TABLE IF NOT EXISTS budget_transactions (
	id                 UUID PRIMARY KEY,
	seq                BIGSERIAL,
	league_id          BIGINT NOT NULL,
	user_id            BIGINT NOT NULL,
	type               TEXT NOT NULL CHECK (type IN ('lock', 'unlock', 'purchase', 'penalty')),
	amount             BIGINT NOT NULL,
	locked_delta       BIGINT NOT NULL,
	balance_after      BIGINT NOT NULL,
	locked_after       BIGINT NOT NULL,
	related_auction_id UUID,
	related_player_id  BIGINT,
	description        TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL,
	FOREIGN KEY (league_id, user_id) REFERENCES league_participants(league_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_budget_transactions_user
	ON budget_transactions (league_id, user_id, seq);
`

var migration002 = `
CREATE TABLE IF NOT EXISTS auctions (
	id                 UUID PRIMARY KEY,
	league_id          BIGINT NOT NULL REFERENCES leagues(id),
	player_id          BIGINT NOT NULL REFERENCES players(id),
	current_bid        BIGINT NOT NULL DEFAULT 0,
	current_bidder_id  BIGINT NOT NULL DEFAULT 0,
	scheduled_end_time TIMESTAMPTZ NOT NULL,
	status             TEXT NOT NULL CHECK (status IN ('active', 'closing', 'sold', 'expired')),
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);

-- One open auction per player and league.
CREATE UNIQUE INDEX IF NOT EXISTS idx_auctions_open_player
	ON auctions (league_id, player_id) WHERE status IN ('active', 'closing');

CREATE INDEX IF NOT EXISTS idx_auctions_due
	ON auctions (scheduled_end_time) WHERE status IN ('active', 'closing');

CREATE TABLE IF NOT EXISTS bids (
	id         UUID PRIMARY KEY,
	seq        BIGSERIAL,
	auction_id UUID NOT NULL REFERENCES auctions(id),
	user_id    BIGINT NOT NULL,
	amount     BIGINT NOT NULL CHECK (amount > 0),
	type       TEXT NOT NULL CHECK (type IN ('manual', 'auto', 'quick')),
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bids_auction ON bids (auction_id, seq);

CREATE TABLE IF NOT EXISTS auto_bids (
	id         UUID PRIMARY KEY,
	auction_id UUID NOT NULL REFERENCES auctions(id),
	user_id    BIGINT NOT NULL,
	max_amount BIGINT NOT NULL CHECK (max_amount > 0),
	is_active  BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_auto_bids_active
	ON auto_bids (auction_id, user_id) WHERE is_active;

CREATE TABLE IF NOT EXISTS player_assignments (
	id          UUID PRIMARY KEY,
	league_id   BIGINT NOT NULL REFERENCES leagues(id),
	user_id     BIGINT NOT NULL,
	player_id   BIGINT NOT NULL REFERENCES players(id),
	auction_id  UUID NOT NULL REFERENCES auctions(id),
	price       BIGINT NOT NULL,
	assigned_at TIMESTAMPTZ NOT NULL,
	UNIQUE (league_id, player_id)
);

CREATE INDEX IF NOT EXISTS idx_player_assignments_user
	ON player_assignments (league_id, user_id);
`

var migration003 = `
CREATE TABLE IF NOT EXISTS response_timers (
	id                UUID PRIMARY KEY,
	auction_id        UUID NOT NULL REFERENCES auctions(id),
	league_id         BIGINT NOT NULL,
	user_id           BIGINT NOT NULL,
	response_deadline TIMESTAMPTZ NOT NULL,
	status            TEXT NOT NULL CHECK (status IN ('pending', 'completed', 'expired')),
	created_at        TIMESTAMPTZ NOT NULL,
	resolved_at       TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_response_timers_pending
	ON response_timers (auction_id, user_id) WHERE status = 'pending';

CREATE INDEX IF NOT EXISTS idx_response_timers_due
	ON response_timers (response_deadline) WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS auction_cooldowns (
	auction_id UUID NOT NULL REFERENCES auctions(id),
	user_id    BIGINT NOT NULL,
	until      TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (auction_id, user_id)
);

CREATE TABLE IF NOT EXISTS compliance_status (
	league_id         BIGINT NOT NULL,
	user_id           BIGINT NOT NULL,
	phase_identifier  TEXT NOT NULL,
	timer_start_at    TIMESTAMPTZ NOT NULL,
	penalties_applied INTEGER NOT NULL DEFAULT 0,
	updated_at        TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (league_id, user_id),
	FOREIGN KEY (league_id, user_id) REFERENCES league_participants(league_id, user_id)
);
`

var migration004 = `
CREATE TABLE IF NOT EXISTS rate_counters (
	key          TEXT NOT NULL,
	window_start TIMESTAMPTZ NOT NULL,
	count        INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (key, window_start)
);

CREATE INDEX IF NOT EXISTS idx_rate_counters_window ON rate_counters (window_start);
`
