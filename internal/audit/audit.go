package audit

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/sirupsen/logrus"
)

type EventType string

const (
	EventLogin         EventType = "LOGIN"
	EventLogout        EventType = "LOGOUT"
	EventChartOpened   EventType = "CHART_OPENED"
	EventChartSaved    EventType = "CHART_SAVED"
	EventPaymentAdded  EventType = "PAYMENT_ADDED"
	EventPaymentEdited EventType = "PAYMENT_EDITED"
	EventPaymentVoided EventType = "PAYMENT_VOIDED"
	EventPatientAdded  EventType = "PATIENT_ADDED"
)

// Event is one row of the clinical activity trail.
type Event struct {
	Timestamp time.Time       `json:"timestamp"`
	EventType EventType       `json:"event_type"`
	UserEmail string          `json:"user_email"`
	Role      string          `json:"role"`
	PatientID int64           `json:"patient_id,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Status    string          `json:"status"`
	Details   json.RawMessage `json:"details,omitempty"`
}

type Service interface {
	LogEvent(ctx context.Context, event *Event)
	QueryEvents(ctx context.Context, filters map[string]interface{}, from, size int) ([]Event, error)
}

type service struct {
	es     *elasticsearch.Client
	logger *logrus.Logger
}

// NewService builds the activity trail. esClient may be nil, in which case
// events only reach the system log.
func NewService(esClient *elasticsearch.Client) Service {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	return &service{
		es:     esClient,
		logger: logger,
	}
}

func (s *service) LogEvent(ctx context.Context, event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	s.logger.WithFields(logrus.Fields{
		"event_type": event.EventType,
		"user_email": event.UserEmail,
		"role":       event.Role,
		"patient_id": event.PatientID,
		"request_id": event.RequestID,
		"status":     event.Status,
	}).Info("Audit event logged")

	if s.es == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.WithError(err).Error("Failed to encode audit event")
		return
	}

	index := "clinic_portal_audit_" + time.Now().Format("2006.01")
	if _, err := s.es.Index(
		index,
		strings.NewReader(string(payload)),
		s.es.Index.WithContext(ctx),
		s.es.Index.WithRefresh("true"),
	); err != nil {
		s.logger.WithError(err).Error("Failed to index audit event")
	}
}

func (s *service) QueryEvents(ctx context.Context, filters map[string]interface{}, from, size int) ([]Event, error) {
	if s.es == nil {
		return nil, nil
	}

	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": buildQueryFilters(filters),
			},
		},
		"sort": []map[string]interface{}{
			{
				"timestamp": map[string]interface{}{
					"order": "desc",
				},
			},
		},
		"from": from,
		"size": size,
	}

	queryJSON, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}

	index := "clinic_portal_audit_*"
	res, err := s.es.Search(
		s.es.Search.WithContext(ctx),
		s.es.Search.WithIndex(index),
		s.es.Search.WithBody(strings.NewReader(string(queryJSON))),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var result struct {
		Hits struct {
			Hits []struct {
				Source Event `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}

	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, err
	}

	events := make([]Event, len(result.Hits.Hits))
	for i, hit := range result.Hits.Hits {
		events[i] = hit.Source
	}

	return events, nil
}

func buildQueryFilters(filters map[string]interface{}) []map[string]interface{} {
	var must []map[string]interface{}

	for field, value := range filters {
		must = append(must, map[string]interface{}{
			"match": map[string]interface{}{
				field: value,
			},
		})
	}

	return must
}
