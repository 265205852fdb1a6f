package orchestrator

// templates.go holds every scripted, non-AI-generated message the pipeline
// can emit, plus the system prompt for the generation provider. Keeping
// them in one file makes clinical review of the wording possible without
// touching pipeline code. None of these strings ever pass through the
// generation provider.

// generateSystemPrompt instructs the provider when producing a candidate
// reply. The safety classifier still checks every candidate; this prompt is
// the first line of defense, not the gate.
const generateSystemPrompt = `You are a medical intake assistant. Your role is to:
1. Gather medical information from patients
2. Never provide diagnosis or medical advice
3. Ask relevant follow-up questions
4. Be empathetic and professional
5. If asked for diagnosis, redirect to information gathering`

// genericEmergencyMessage is the scripted reply for an emergency turn whose
// flag type has no dedicated template.
const genericEmergencyMessage = "Based on what you've described, please seek immediate medical attention. Call your local emergency number or go to the nearest emergency department now. A clinician has been notified."

// urgentMessage is the scripted reply for urgent (non-emergency) turns.
const urgentMessage = "What you're describing should be looked at promptly. Please contact your care team today or visit an urgent care clinic. A clinician has been notified and will follow up."

// emergencyMessages maps a red-flag type to its scripted reply. When a turn
// carries several flags, the template for the highest-severity,
// earliest-declared flag wins; unknown flag types fall back to the generic
// emergency message.
var emergencyMessages = map[string]string{
	"cauda_equina":             "Loss of feeling in the legs or loss of bladder or bowel control can be a sign of serious nerve compression. Please go to the nearest emergency department immediately. A clinician has been notified.",
	"open_fracture":            "A bone visible through the skin is an emergency. Do not move the limb, keep the wound covered, and call your local emergency number now. A clinician has been notified.",
	"neurovascular_compromise": "A limb that is numb, cold, or changing color needs to be seen immediately. Please go to the nearest emergency department now. A clinician has been notified.",
	"cardiac":                  "Severe chest pain needs immediate attention. Please call your local emergency number right now. A clinician has been notified.",
	"respiratory_distress":     "Difficulty breathing needs immediate attention. Please call your local emergency number right now. A clinician has been notified.",
	"hemorrhage":               "Severe bleeding is an emergency. Apply firm pressure to the wound and call your local emergency number now. A clinician has been notified.",
	"septic_arthritis":         "Fever together with a hot, swollen joint needs emergency care. Please go to the nearest emergency department now. A clinician has been notified.",
}

// blockedRedirectMessage answers patient questions on the blocklist
// (diagnosis, prognosis, prescriptions) without calling the provider.
const blockedRedirectMessage = "I'm here to help gather your medical information. Could you please describe your symptoms or concerns?"

// providerFallbackMessage is shown when the generation provider is
// unavailable or over budget. The patient is never left without a reply.
const providerFallbackMessage = "I understand. Could you tell me more about your symptoms?"

// substitutionMessages replace a candidate reply the safety classifier
// rejected. All of them redirect toward information gathering without any
// diagnostic content. Selection is deterministic by turn id so tests can
// pin the output.
var substitutionMessages = []string{
	"Thank you for sharing that. I can't comment on diagnoses, but your care team will review everything. Could you describe when the symptoms started?",
	"I'll make sure your clinician sees this. Could you tell me how the symptoms have changed over time?",
	"That's helpful information for your care team. Is there anything else about your symptoms you'd like to add?",
}

// scriptedEscalationMessage picks the patient-facing message for an
// escalated turn: the dedicated template for the first highest-severity
// flag, else the generic message for that severity.
func scriptedEscalationMessage(severityRank int, flags []flagRef) string {
	for _, f := range flags {
		if f.rank != severityRank {
			continue
		}
		if msg, ok := emergencyMessages[f.flagType]; ok && severityRank >= 2 {
			return msg
		}
	}
	if severityRank >= 2 {
		return genericEmergencyMessage
	}
	return urgentMessage
}

// flagRef is the minimal view templates need of a match.
type flagRef struct {
	flagType string
	rank     int
}
