package bsd

// ComputeStatus derives the status of doc from its signature ledger,
// acceptance and operation facts, and the family rule table. It has no side
// effects: callers compare the result with the stored status.
func ComputeStatus(doc Document, rules FamilyRules) (Status, error) {
	if rules.Family != "" && doc.Family != rules.Family {
		return "", Invariant("rules for %s applied to a %s document", rules.Family, doc.Family)
	}
	if err := doc.Signatures.Validate(); err != nil {
		return "", err
	}
	if doc.IsDeleted && doc.Status != "" {
		return doc.Status, nil
	}
	if doc.IsCanceled {
		if !rules.Cancelable {
			return "", Validation("%s documents cannot be canceled", doc.Family)
		}
		return StatusCanceled, nil
	}
	if doc.IsDraft {
		if !doc.Signatures.Empty() {
			return "", InvalidTransition("a draft document cannot carry signatures")
		}
		return rules.DraftStatus, nil
	}

	stages := rules.ActiveStages(&doc)
	status := rules.InitialStatus
	gap := Stage("")
	for _, rule := range stages {
		signed := doc.Signatures.Signed(rule.Stage)
		if gap != "" {
			if signed {
				return "", InvalidTransition("stage %s is signed while %s is not", rule.Stage, gap)
			}
			continue
		}
		if !signed {
			gap = rule.Stage
			continue
		}
		if rule.Stage == rules.AcceptanceStage {
			next, refused := acceptanceStatus(doc, rules, rule)
			status = next
			if refused {
				if err := ensureNothingAfter(doc, stages, rule.Stage, "after a refusal"); err != nil {
					return "", err
				}
				return StatusRefused, nil
			}
			if rules.AwaitsAcceptance(&doc) {
				if err := ensureNothingAfter(doc, stages, rule.Stage, "before the acceptance is recorded"); err != nil {
					return "", err
				}
			}
			if rule.Stage != StageOperation {
				continue
			}
		}
		if rule.Stage == StageOperation {
			status = operationStatus(doc, rules, rule)
			continue
		}
		status = rule.Status
	}
	if err := ensureNoStrayStages(doc, rules); err != nil {
		return "", err
	}
	return status, nil
}

func acceptanceStatus(doc Document, rules FamilyRules, rule StageRule) (Status, bool) {
	switch doc.Reception.AcceptationStatus {
	case AcceptationRefused:
		return StatusRefused, true
	case AcceptationPartiallyRefused:
		if rules.PartialStatus != "" {
			return rules.PartialStatus, false
		}
		return rule.Status, false
	case "":
		if rules.ReceivedStatus != "" {
			return rules.ReceivedStatus, false
		}
	}
	return rule.Status, false
}

func operationStatus(doc Document, rules FamilyRules, rule StageRule) Status {
	if doc.Operation.NoTraceability && rules.NoTraceability != "" {
		return rules.NoTraceability
	}
	if doc.Operation.IsFinal() || doc.Operation.FinalizedByID != "" || rules.IntermediateStatus == "" {
		return rule.Status
	}
	return rules.IntermediateStatus
}

func ensureNothingAfter(doc Document, stages []StageRule, stage Stage, when string) error {
	after := false
	for _, rule := range stages {
		if rule.Stage == stage {
			after = true
			continue
		}
		if after && doc.Signatures.Signed(rule.Stage) {
			return InvalidTransition("stage %s cannot be signed %s", rule.Stage, when)
		}
	}
	return nil
}

// ensureNoStrayStages rejects signatures on stages the document skips.
func ensureNoStrayStages(doc Document, rules FamilyRules) error {
	active := map[Stage]struct{}{}
	for _, rule := range rules.ActiveStages(&doc) {
		active[rule.Stage] = struct{}{}
	}
	for _, stage := range []Stage{StageEmission, StageWork, StageTransport, StageReception, StageOperation} {
		if _, ok := active[stage]; ok {
			continue
		}
		if doc.Signatures.Signed(stage) {
			return InvalidTransition("stage %s does not apply to this document", stage)
		}
	}
	return nil
}

// StageRank orders statuses along the family lifecycle; terminal refusal and
// cancellation rank above every stage.
func StageRank(rules FamilyRules, status Status) int {
	switch status {
	case rules.DraftStatus, rules.InitialStatus:
		return 0
	case StatusRefused, StatusCanceled:
		return len(rules.Stages) + 2
	}
	for i, rule := range rules.Stages {
		if rule.Status == status {
			return i + 1
		}
	}
	switch status {
	case rules.ReceivedStatus, rules.PartialStatus:
		for i, rule := range rules.Stages {
			if rule.Stage == rules.AcceptanceStage {
				return i + 1
			}
		}
	case rules.IntermediateStatus, rules.NoTraceability:
		return len(rules.Stages)
	}
	return -1
}
