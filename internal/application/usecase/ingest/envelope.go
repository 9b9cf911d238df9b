package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
)

var (
	ErrUnrecognized     = errors.New("unrecognized message body")
	ErrMissingPortfolio = errors.New("message has no portfolio id")
	ErrMissingKey       = errors.New("message has no object key")
)

// Shape 消息体的外层结构
type Shape int

const (
	// ShapeRaw is {portfolioId, key, attempt?} sent directly.
	ShapeRaw Shape = iota
	// ShapeWrapped is a notification envelope {Message: "<json>"}.
	ShapeWrapped
	// ShapeObjectEvent is an object storage event {Records: [{s3: {object: {key}}}]}.
	ShapeObjectEvent
)

func (s Shape) String() string {
	switch s {
	case ShapeWrapped:
		return "wrapped"
	case ShapeObjectEvent:
		return "object_event"
	default:
		return "raw"
	}
}

// Notification is a classified upload notification.
type Notification struct {
	PortfolioID string
	Key         string
	Attempt     int
	Shape       Shape
}

// Classifier resolves message bodies into notifications. PortfolioPrefixes
// name the key segments that are followed by the portfolio id, e.g.
// "uploads" in uploads/<portfolioId>/trades.csv.
type Classifier struct {
	PortfolioPrefixes []string
}

type objectEventRecord struct {
	S3 *struct {
		Object struct {
			Key string `json:"key"`
		} `json:"object"`
	} `json:"s3"`
}

// body holds every field any supported shape may carry.
type body struct {
	Records     []objectEventRecord `json:"Records"`
	Message     *string             `json:"Message"`
	PortfolioID string              `json:"portfolioId"`
	Key         string              `json:"key"`
	Attempt     *float64            `json:"attempt"`
}

// Classify tries, in order: object storage event, wrapped envelope, raw body.
// Only one envelope layer is unwrapped.
func (c Classifier) Classify(raw []byte) (Notification, error) {
	var b body
	if err := json.Unmarshal(raw, &b); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrUnrecognized, err)
	}
	if n, ok, err := c.fromObjectEvent(b); ok {
		return n, err
	}
	if b.Message != nil {
		var inner body
		if err := json.Unmarshal([]byte(*b.Message), &inner); err != nil {
			return Notification{}, fmt.Errorf("%w: wrapped message: %v", ErrUnrecognized, err)
		}
		if n, ok, err := c.fromObjectEvent(inner); ok {
			return n, err
		}
		n, err := c.fromRaw(inner)
		n.Shape = ShapeWrapped
		return n, err
	}
	return c.fromRaw(b)
}

func (c Classifier) fromObjectEvent(b body) (Notification, bool, error) {
	for _, rec := range b.Records {
		if rec.S3 == nil {
			continue
		}
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			key = rec.S3.Object.Key
		}
		n := Notification{Key: key, Shape: ShapeObjectEvent}
		if key == "" {
			return n, true, ErrMissingKey
		}
		n.PortfolioID = c.PortfolioFromKey(key)
		if n.PortfolioID == "" {
			return n, true, fmt.Errorf("%w: key %q", ErrMissingPortfolio, key)
		}
		return n, true, nil
	}
	return Notification{}, false, nil
}

func (c Classifier) fromRaw(b body) (Notification, error) {
	n := Notification{
		PortfolioID: strings.TrimSpace(b.PortfolioID),
		Key:         strings.TrimSpace(b.Key),
		Shape:       ShapeRaw,
	}
	if b.Attempt != nil && *b.Attempt > 0 && !math.IsInf(*b.Attempt, 0) {
		n.Attempt = int(*b.Attempt)
	}
	if n.Key == "" {
		if n.PortfolioID == "" {
			return n, ErrUnrecognized
		}
		return n, ErrMissingKey
	}
	if n.PortfolioID == "" {
		n.PortfolioID = c.PortfolioFromKey(n.Key)
	}
	if n.PortfolioID == "" {
		return n, fmt.Errorf("%w: key %q", ErrMissingPortfolio, n.Key)
	}
	return n, nil
}

// PortfolioFromKey returns the path segment after the first known prefix.
func (c Classifier) PortfolioFromKey(key string) string {
	parts := strings.Split(strings.Trim(key, "/"), "/")
	for i := 0; i < len(parts)-1; i++ {
		for _, p := range c.PortfolioPrefixes {
			if parts[i] == strings.Trim(p, "/") && parts[i+1] != "" {
				return parts[i+1]
			}
		}
	}
	return ""
}
