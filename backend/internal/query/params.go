// Package query answers read-only questions about one user's graph. Every
// outcome, including bad input, is a Result value.
package query

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	kgerrors "kgraph/backend/pkg/errors"
)

// Type names one of the query operations
type Type string

const (
	TypeRelatedTopics Type = "related_topics"
	TypeTopTopics     Type = "top_topics"
	TypeTopicPath     Type = "topic_path"
	TypeUserInterests Type = "user_interests"
	TypeGraphSummary  Type = "graph_summary"
)

// Limits applied to ranked queries
const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Params is the tagged union of per-operation parameters
type Params interface {
	QueryType() Type
}

type RelatedTopicsParams struct {
	Topic string `json:"topic" validate:"required"`
	Limit int    `json:"limit" validate:"gte=0,lte=100"`
}

type TopTopicsParams struct {
	Limit int `json:"limit" validate:"gte=0,lte=100"`
}

type TopicPathParams struct {
	From string `json:"from" validate:"required"`
	To   string `json:"to" validate:"required"`
}

type UserInterestsParams struct {
	Limit int `json:"limit" validate:"gte=0,lte=100"`
}

type GraphSummaryParams struct{}

func (RelatedTopicsParams) QueryType() Type { return TypeRelatedTopics }
func (TopTopicsParams) QueryType() Type     { return TypeTopTopics }
func (TopicPathParams) QueryType() Type     { return TypeTopicPath }
func (UserInterestsParams) QueryType() Type { return TypeUserInterests }
func (GraphSummaryParams) QueryType() Type  { return TypeGraphSummary }

// Request is one query against one user's graph
type Request struct {
	UserID string
	Params Params
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ParseRequest builds a typed request from a query type name and loosely
// structured JSON params. Unknown fields in params are ignored.
func ParseRequest(userID, queryType string, raw json.RawMessage) (Request, error) {
	var (
		params Params
		err    error
	)
	switch Type(queryType) {
	case TypeRelatedTopics:
		params, err = decode[RelatedTopicsParams](queryType, raw)
	case TypeTopTopics:
		params, err = decode[TopTopicsParams](queryType, raw)
	case TypeTopicPath:
		params, err = decode[TopicPathParams](queryType, raw)
	case TypeUserInterests:
		params, err = decode[UserInterestsParams](queryType, raw)
	case TypeGraphSummary:
		params, err = decode[GraphSummaryParams](queryType, raw)
	default:
		return Request{}, kgerrors.InvalidQuery("Unknown query type: " + queryType)
	}
	if err != nil {
		return Request{}, err
	}
	return Request{UserID: userID, Params: params}, nil
}

func decode[T Params](queryType string, raw json.RawMessage) (Params, error) {
	var p T
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, kgerrors.InvalidQuery(fmt.Sprintf("Invalid params for %s: %v", queryType, err))
	}
	return p, nil
}

// Validate checks the request before dispatch
func (r Request) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return kgerrors.InvalidQuery("Missing required parameter: userId")
	}
	if r.Params == nil {
		return kgerrors.InvalidQuery("Missing query parameters")
	}

	err := validate.Struct(r.Params)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Tag() == "required" {
			return kgerrors.InvalidQuery("Missing required parameter: " + fe.Field())
		}
		return kgerrors.InvalidQuery(fmt.Sprintf("Invalid parameter %s: must be %s %s", fe.Field(), fe.Tag(), fe.Param()))
	}
	if err != nil {
		return kgerrors.InvalidQuery(err.Error())
	}
	return nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}
