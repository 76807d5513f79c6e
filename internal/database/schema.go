package database

// schemaSQL is the single source of truth for the store's schema.
// Timestamps are stored as RFC3339 UTC strings so lexical order matches
// chronological order.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS users (
    id            TEXT PRIMARY KEY,
    email         TEXT NOT NULL COLLATE NOCASE UNIQUE,
    password_hash TEXT NOT NULL,
    locale        TEXT NOT NULL DEFAULT 'ko-KR',
    created_at_utc TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS watchlist_items (
    id             TEXT PRIMARY KEY,
    user_id        TEXT NOT NULL REFERENCES users(id),
    market         TEXT NOT NULL,
    symbol         TEXT NOT NULL,
    created_at_utc TEXT NOT NULL,
    UNIQUE (user_id, market, symbol)
);
CREATE INDEX IF NOT EXISTS idx_watchlist_user ON watchlist_items(user_id);

CREATE TABLE IF NOT EXISTS thresholds (
    user_id        TEXT NOT NULL REFERENCES users(id),
    window_minutes INTEGER NOT NULL,
    threshold_pct  REAL NOT NULL,
    updated_at_utc TEXT NOT NULL,
    PRIMARY KEY (user_id, window_minutes)
);

CREATE TABLE IF NOT EXISTS price_events (
    id                TEXT PRIMARY KEY,
    market            TEXT NOT NULL,
    symbol            TEXT NOT NULL,
    change_pct        REAL NOT NULL,
    window_minutes    INTEGER NOT NULL,
    detected_at_utc   TEXT NOT NULL,
    exchange_timezone TEXT NOT NULL,
    session_label     TEXT NOT NULL,
    delta_realert     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_events_symbol ON price_events(market, symbol, detected_at_utc);
CREATE INDEX IF NOT EXISTS idx_events_detected ON price_events(detected_at_utc);

CREATE TABLE IF NOT EXISTS event_reasons (
    id               TEXT PRIMARY KEY,
    event_id         TEXT NOT NULL REFERENCES price_events(id),
    rank             INTEGER NOT NULL,
    reason_type      TEXT NOT NULL,
    confidence_score REAL NOT NULL,
    summary          TEXT NOT NULL,
    source_url       TEXT NOT NULL,
    published_at_utc TEXT NOT NULL,
    explanation_json TEXT NOT NULL,
    UNIQUE (event_id, rank),
    UNIQUE (event_id, source_url)
);
CREATE INDEX IF NOT EXISTS idx_reasons_event ON event_reasons(event_id);

CREATE TABLE IF NOT EXISTS reason_fetch_audits (
    id              TEXT PRIMARY KEY,
    event_id        TEXT NOT NULL REFERENCES price_events(id),
    source          TEXT NOT NULL,
    duration_ms     INTEGER NOT NULL,
    candidate_count INTEGER NOT NULL,
    error           TEXT,
    retryable       INTEGER NOT NULL DEFAULT 0,
    fetched_at_utc  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fetch_audits_event ON reason_fetch_audits(event_id);

CREATE TABLE IF NOT EXISTS reason_feedback (
    user_id        TEXT NOT NULL REFERENCES users(id),
    event_id       TEXT NOT NULL REFERENCES price_events(id),
    reason_id      TEXT NOT NULL REFERENCES event_reasons(id),
    vote           TEXT NOT NULL,
    updated_at_utc TEXT NOT NULL,
    PRIMARY KEY (user_id, event_id, reason_id)
);
CREATE INDEX IF NOT EXISTS idx_feedback_event ON reason_feedback(event_id);

CREATE TABLE IF NOT EXISTS reason_reports (
    id             TEXT PRIMARY KEY,
    user_id        TEXT NOT NULL REFERENCES users(id),
    event_id       TEXT NOT NULL REFERENCES price_events(id),
    reason_id      TEXT NOT NULL REFERENCES event_reasons(id),
    report_type    TEXT NOT NULL,
    note           TEXT,
    status         TEXT NOT NULL,
    created_at_utc TEXT NOT NULL,
    updated_at_utc TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reports_event ON reason_reports(event_id);
CREATE INDEX IF NOT EXISTS idx_reports_scope ON reason_reports(user_id, event_id, reason_id, status);

CREATE TABLE IF NOT EXISTS reason_status_transitions (
    id             TEXT PRIMARY KEY,
    report_id      TEXT NOT NULL REFERENCES reason_reports(id),
    event_id       TEXT NOT NULL REFERENCES price_events(id),
    reason_id      TEXT NOT NULL,
    from_status    TEXT,
    to_status      TEXT NOT NULL,
    note           TEXT,
    changed_at_utc TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transitions_event ON reason_status_transitions(event_id, changed_at_utc);

CREATE TABLE IF NOT EXISTS reason_revisions (
    id                TEXT PRIMARY KEY,
    report_id         TEXT NOT NULL REFERENCES reason_reports(id),
    event_id          TEXT NOT NULL REFERENCES price_events(id),
    reason_id         TEXT NOT NULL REFERENCES event_reasons(id),
    revision_reason   TEXT NOT NULL,
    confidence_before REAL NOT NULL,
    confidence_after  REAL NOT NULL,
    revised_at_utc    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_revisions_event ON reason_revisions(event_id, revised_at_utc);

CREATE TABLE IF NOT EXISTS notifications (
    id          TEXT PRIMARY KEY,
    user_id     TEXT NOT NULL REFERENCES users(id),
    event_id    TEXT NOT NULL REFERENCES price_events(id),
    channel     TEXT NOT NULL,
    status      TEXT NOT NULL,
    message     TEXT NOT NULL,
    delta       INTEGER NOT NULL DEFAULT 0,
    sent_at_utc TEXT NOT NULL,
    UNIQUE (user_id, event_id, channel)
);
CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, status);

CREATE TABLE IF NOT EXISTS briefs (
    id               TEXT PRIMARY KEY,
    user_id          TEXT NOT NULL REFERENCES users(id),
    brief_type       TEXT NOT NULL,
    title            TEXT NOT NULL,
    summary          TEXT NOT NULL DEFAULT '',
    generated_at_utc TEXT NOT NULL,
    markets          TEXT NOT NULL,
    fallback_reason  TEXT,
    status           TEXT NOT NULL DEFAULT 'unread',
    expires_at_utc   TEXT
);
CREATE INDEX IF NOT EXISTS idx_briefs_user ON briefs(user_id, generated_at_utc);

CREATE TABLE IF NOT EXISTS brief_items (
    brief_id         TEXT NOT NULL REFERENCES briefs(id),
    position         INTEGER NOT NULL,
    event_id         TEXT NOT NULL,
    symbol           TEXT NOT NULL,
    market           TEXT NOT NULL,
    summary          TEXT NOT NULL,
    source_url       TEXT NOT NULL,
    event_detail_url TEXT NOT NULL,
    PRIMARY KEY (brief_id, position)
);

CREATE TABLE IF NOT EXISTS compare_cache (
    event_id       TEXT PRIMARY KEY,
    payload        BLOB NOT NULL,
    cached_at_utc  TEXT NOT NULL
);
`
