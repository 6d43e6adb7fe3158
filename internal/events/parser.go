package events

import (
	"encoding/json"
	"log/slog"

	awsevents "github.com/aws/aws-lambda-go/events"
)

// Parser validates raw queue records and extracts dispatch records from
// them. Malformed or irrelevant records are dropped with a logged reason;
// they are never retried since they will not become valid on redelivery.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a parser that logs dropped records to logger.
func NewParser(logger *slog.Logger) *Parser {
	return &Parser{logger: logger}
}

// ParseBatch parses every record of an SQS batch in delivery order. Records
// that fail validation or report a compliant resource are skipped.
func (p *Parser) ParseBatch(batch awsevents.SQSEvent) []Dispatch {
	dispatches := make([]Dispatch, 0, len(batch.Records))
	for _, rec := range batch.Records {
		if d := p.Parse(rec); d != nil {
			dispatches = append(dispatches, *d)
		}
	}
	return dispatches
}

// Parse validates one queue record. It returns nil when the record is
// malformed, is not a compliance-change notification, or reports a
// compliance type other than NON_COMPLIANT. Validation short-circuits on
// the first failure and the reason is logged.
func (p *Parser) Parse(rec awsevents.SQSMessage) *Dispatch {
	if rec.MessageId == "" {
		p.logger.Warn("dropping record without message id")
		return nil
	}

	var n notification
	if err := json.Unmarshal([]byte(rec.Body), &n); err != nil {
		p.logger.Warn("dropping record with unparseable body",
			"message_id", rec.MessageId,
			"error", err)
		return nil
	}

	if n.DetailType != DetailTypeComplianceChange {
		p.logger.Warn("dropping record with unexpected detail type",
			"message_id", rec.MessageId,
			"detail_type", n.DetailType)
		return nil
	}
	if n.Source != SourceConfig {
		p.logger.Warn("dropping record with unexpected source",
			"message_id", rec.MessageId,
			"source", n.Source)
		return nil
	}

	d := n.Detail
	switch {
	case d.ResourceID == "", d.ResourceType == "", d.AccountID == "",
		d.Region == "", d.ConfigRuleName == "":
		p.logger.Warn("dropping record with incomplete detail",
			"message_id", rec.MessageId,
			"config_rule", d.ConfigRuleName,
			"resource_id", d.ResourceID)
		return nil
	case d.MessageType != MessageTypeCompliance:
		p.logger.Warn("dropping record with unexpected message type",
			"message_id", rec.MessageId,
			"message_type", d.MessageType)
		return nil
	case d.NewEvaluation.ComplianceType == "":
		p.logger.Warn("dropping record without compliance type",
			"message_id", rec.MessageId,
			"config_rule", d.ConfigRuleName)
		return nil
	}

	base, ok := baseRuleName(d.ConfigRuleName)
	if !ok {
		p.logger.Warn("dropping record without conformance pack marker in rule name",
			"message_id", rec.MessageId,
			"config_rule", d.ConfigRuleName)
		return nil
	}

	if d.NewEvaluation.ComplianceType != ComplianceNonCompliant {
		p.logger.Info("ignoring compliant resource",
			"message_id", rec.MessageId,
			"config_rule", base,
			"resource_id", d.ResourceID,
			"compliance_type", d.NewEvaluation.ComplianceType)
		return nil
	}

	return &Dispatch{
		MessageID:      rec.MessageId,
		ComplianceType: d.NewEvaluation.ComplianceType,
		QualifiedRule:  d.ConfigRuleName,
		RuleName:       base,
		AccountID:      d.AccountID,
		Region:         d.Region,
		ResourceType:   d.ResourceType,
		ResourceID:     d.ResourceID,
		Action:         ActionRemediate,
	}
}
