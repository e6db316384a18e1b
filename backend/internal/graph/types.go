package graph

import "time"

// NodeType is fixed when a node is first inserted
type NodeType string

const (
	NodeTypeMainTopic NodeType = "main_topic"
	NodeTypeSubtopic  NodeType = "subtopic"
	NodeTypeEntity    NodeType = "entity"
)

// Sentiment of the most recent mention of a node
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// ContextType describes the user's stance toward a node
type ContextType string

const (
	ContextInterestedIn  ContextType = "interested_in"
	ContextExperiencedIn ContextType = "experienced_in"
	ContextCuriousAbout  ContextType = "curious_about"
	ContextLearning      ContextType = "learning"
	ContextDiscussing    ContextType = "discussing"
	ContextNeutral       ContextType = "neutral"
)

// InterestContexts are the context types that mark a node as a user interest
var InterestContexts = []ContextType{ContextInterestedIn, ContextExperiencedIn, ContextCuriousAbout}

// Derived relation types
const (
	RelationRelatedTo     = "related_to"
	RelationSubtopicOf    = "subtopic_of"
	RelationMentionedWith = "mentioned_with"
)

// Node is a topic, subtopic or entity vertex in one user's graph
type Node struct {
	UserID       string        `json:"userId"`
	ID           string        `json:"id"`
	Type         NodeType      `json:"type"`
	Weight       int           `json:"weight"`
	Sentiment    Sentiment     `json:"sentiment"`
	ContextTypes []ContextType `json:"contextTypes"`
	FirstSeen    time.Time     `json:"firstSeen"`
	LastSeen     time.Time     `json:"lastSeen"`
}

// Edge is a typed, weighted relationship. SourceID/TargetID keep the
// orientation of the first mention; identity ignores orientation.
type Edge struct {
	UserID       string    `json:"userId"`
	SourceID     string    `json:"sourceId"`
	TargetID     string    `json:"targetId"`
	RelationType string    `json:"relationType"`
	Weight       int       `json:"weight"`
	LastUpdated  time.Time `json:"lastUpdated"`
}

// NodeUpsert is one mention of a node. Token, when set, makes the upsert
// apply at most once per user.
type NodeUpsert struct {
	ID          string
	Type        NodeType
	Sentiment   Sentiment
	ContextType ContextType
	Token       string
}

// EdgeUpsert is one mention of a relationship
type EdgeUpsert struct {
	SourceID     string
	TargetID     string
	RelationType string
	Token        string
}

// UpsertResult reports what an upsert did
type UpsertResult struct {
	Created bool `json:"created"`
	Weight  int  `json:"weight"`
	// Skipped is set when the token had already been applied
	Skipped bool `json:"skipped"`
}

// ExtractionCounts are the per-list item counts of one extraction
type ExtractionCounts struct {
	MainTopics int `json:"mainTopics"`
	Subtopics  int `json:"subtopics"`
	Entities   int `json:"entities"`
	Relations  int `json:"relations"`
}

// TextSource is the immutable audit record of one processed text
type TextSource struct {
	ID          string           `json:"id"`
	UserID      string           `json:"userId"`
	Content     string           `json:"content"`
	Length      int              `json:"length"`
	RunID       string           `json:"runId"`
	DurationMs  int64            `json:"durationMs"`
	Counts      ExtractionCounts `json:"counts"`
	Sentiment   Sentiment        `json:"sentiment"`
	ContextType ContextType      `json:"contextType"`
	CreatedAt   time.Time        `json:"createdAt"`
}

// RelatedTopic is one neighbor row of a related-topics query
type RelatedTopic struct {
	Topic              string   `json:"topic"`
	Type               NodeType `json:"type"`
	Weight             int      `json:"weight"`
	ConnectionStrength int      `json:"connectionStrength"`
	RelationType       string   `json:"relationType"`
}

// RankedNode is a node with its connection count
type RankedNode struct {
	Topic        string        `json:"topic"`
	Type         NodeType      `json:"type"`
	Weight       int           `json:"weight"`
	Connections  int           `json:"connections"`
	Sentiment    Sentiment     `json:"sentiment"`
	ContextTypes []ContextType `json:"contextTypes"`
}

// Summary holds aggregate statistics of one user's graph
type Summary struct {
	TotalNodes  int              `json:"totalNodes"`
	TotalEdges  int              `json:"totalEdges"`
	NodesByType map[NodeType]int `json:"nodesByType"`
	TopTopics   []RankedNode     `json:"topTopics"`
}

// SummaryTopN is the number of top topics included in a Summary
const SummaryTopN = 5
