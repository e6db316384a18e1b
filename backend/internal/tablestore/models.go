package tablestore

import "time"

type nodeRow struct {
	UserID    string    `gorm:"primaryKey;size:128"`
	ID        string    `gorm:"primaryKey;size:512"`
	NodeType  string    `gorm:"size:32;not null"`
	Weight    int       `gorm:"not null"`
	Sentiment string    `gorm:"size:16;not null"`
	FirstSeen time.Time `gorm:"not null"`
	LastSeen  time.Time `gorm:"not null"`
}

func (nodeRow) TableName() string { return "nodes" }

type nodeContextRow struct {
	UserID      string `gorm:"primaryKey;size:128"`
	NodeID      string `gorm:"primaryKey;size:512"`
	ContextType string `gorm:"primaryKey;size:32"`
}

func (nodeContextRow) TableName() string { return "node_contexts" }

// edgeRow keeps the orientation of the first mention in SourceID/TargetID.
// PairKey makes (a,b) and (b,a) collide on the unique index.
type edgeRow struct {
	Seq          uint64    `gorm:"primaryKey;autoIncrement"`
	UserID       string    `gorm:"size:128;not null;uniqueIndex:idx_edges_identity,priority:1;index:idx_edges_user"`
	PairKey      string    `gorm:"size:1040;not null;uniqueIndex:idx_edges_identity,priority:2"`
	RelationType string    `gorm:"size:128;not null;uniqueIndex:idx_edges_identity,priority:3"`
	SourceID     string    `gorm:"size:512;not null"`
	TargetID     string    `gorm:"size:512;not null"`
	Weight       int       `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	LastUpdated  time.Time `gorm:"not null"`
}

func (edgeRow) TableName() string { return "edges" }

type textSourceRow struct {
	UserID    string `gorm:"primaryKey;size:128"`
	ID        string `gorm:"primaryKey;size:128"`
	Content   string `gorm:"type:text;not null"`
	Length    int    `gorm:"not null"`
	CreatedAt time.Time
}

func (textSourceRow) TableName() string { return "text_sources" }

type auditRow struct {
	UserID       string `gorm:"primaryKey;size:128"`
	TextSourceID string `gorm:"primaryKey;size:128"`
	RunID        string `gorm:"size:128;not null;index"`
	DurationMs   int64  `gorm:"not null"`
	MainTopics   int
	Subtopics    int
	Entities     int
	Relations    int
	Sentiment    string `gorm:"size:16"`
	ContextType  string `gorm:"size:32"`
	CreatedAt    time.Time
}

func (auditRow) TableName() string { return "extraction_audit" }

type mutationRow struct {
	UserID    string `gorm:"primaryKey;size:128"`
	Token     string `gorm:"primaryKey;size:256"`
	AppliedAt time.Time
}

func (mutationRow) TableName() string { return "applied_mutations" }

type runRow struct {
	ID        string `gorm:"primaryKey;size:128"`
	UserID    string `gorm:"size:128;not null;index"`
	Step      string `gorm:"size:32;not null"`
	Status    string `gorm:"size:16;not null;index"`
	State     string `gorm:"type:text;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (runRow) TableName() string { return "pipeline_runs" }

// statsRow is one row of the node_stats / interest_nodes views
type statsRow struct {
	UserID      string
	ID          string
	NodeType    string
	Weight      int
	Sentiment   string
	Connections int
}
