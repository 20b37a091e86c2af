package chatapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/carelink/internal/chat"
	"github.com/linnemanlabs/carelink/internal/escalation"
)

const (
	testToken     = "test-token"
	testPatientID = "5f3a1c9e-8b2d-4f6a-9c1e-2d7b8a4f6c3e"
	testClinicID  = "7a2b4d6f-1c3e-4a5b-8d9f-0e1a2b3c4d5e"
)

// stubChatService implements ChatService with canned responses.
type stubChatService struct {
	result  *chat.TurnResult
	replies []chat.Message
	patient *chat.Patient
	err     error

	lastPatientID      string
	lastConversationID string
	lastSince          time.Time
}

func (s *stubChatService) ProcessMessage(_ context.Context, patientID, _, conversationID string) (*chat.TurnResult, error) {
	s.lastPatientID = patientID
	s.lastConversationID = conversationID
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubChatService) RegisterPatient(_ context.Context, id, clinicID, firstName, lastName string) (*chat.Patient, error) {
	s.lastPatientID = id
	if s.err != nil {
		return nil, s.err
	}
	if s.patient != nil {
		return s.patient, nil
	}
	return &chat.Patient{ID: id, ClinicID: clinicID, FirstName: firstName, LastName: lastName}, nil
}

func (s *stubChatService) PollReplies(_ context.Context, conversationID string, since time.Time) ([]chat.Message, error) {
	s.lastConversationID = conversationID
	s.lastSince = since
	if s.err != nil {
		return nil, s.err
	}
	return s.replies, nil
}

// stubEscalationService implements EscalationService with canned
// responses.
type stubEscalationService struct {
	escalation *escalation.Escalation
	message    *chat.Message
	queue      []escalation.Escalation
	err        error

	lastNotes     string
	lastClinician string
}

func (s *stubEscalationService) Create(_ context.Context, _, _ string) (*escalation.Escalation, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.escalation, nil
}

func (s *stubEscalationService) Get(_ context.Context, _ string) (*escalation.Escalation, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.escalation, nil
}

func (s *stubEscalationService) Reply(_ context.Context, _, _, clinicianID string) (*chat.Message, error) {
	s.lastClinician = clinicianID
	if s.err != nil {
		return nil, s.err
	}
	return s.message, nil
}

func (s *stubEscalationService) Resolve(_ context.Context, _, notes string) (*escalation.Escalation, error) {
	s.lastNotes = notes
	if s.err != nil {
		return nil, s.err
	}
	return s.escalation, nil
}

func (s *stubEscalationService) Queue(_ context.Context, _ string) ([]escalation.Escalation, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.queue, nil
}

func newTestRouter(chats *stubChatService, escs *stubEscalationService) chi.Router {
	api := New(nil, chats, escs, testToken)
	r := chi.NewRouter()
	api.RegisterRoutes(r)
	return r
}

func TestNew_NilServicesPanic(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New with nil chat service did not panic")
		}
	}()
	New(nil, nil, &stubEscalationService{}, testToken)
}

func TestPostMessage(t *testing.T) {
	t.Parallel()

	chats := &stubChatService{result: &chat.TurnResult{ConversationID: "conv-1"}}
	r := newTestRouter(chats, &stubEscalationService{})

	body := `{"patient_id":"` + testPatientID + `","content":"I have a headache"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", rec.Code, rec.Body.String())
	}
	var got chat.TurnResult
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ConversationID != "conv-1" {
		t.Errorf("conversation_id = %q, want conv-1", got.ConversationID)
	}
	if chats.lastPatientID != testPatientID {
		t.Errorf("patient id passed = %q", chats.lastPatientID)
	}
}

func TestPostMessage_Validation(t *testing.T) {
	t.Parallel()

	r := newTestRouter(&stubChatService{}, &stubEscalationService{})

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"bad patient id", `{"patient_id":"pat-1","content":"hello"}`},
		{"empty content", `{"patient_id":"` + testPatientID + `","content":"  "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestPostMessage_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"patient not found", chat.ErrPatientNotFound, http.StatusNotFound},
		{"conversation not found", chat.ErrConversationNotFound, http.StatusNotFound},
		{"not owner", chat.ErrNotOwner, http.StatusForbidden},
		{"closed", chat.ErrConversationClosed, http.StatusConflict},
		{"awaiting clinician", chat.ErrAwaitingClinician, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := newTestRouter(&stubChatService{err: tt.err}, &stubEscalationService{})
			body := `{"patient_id":"` + testPatientID + `","content":"hello"}`
			req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", strings.NewReader(body))
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestPollReplies(t *testing.T) {
	t.Parallel()

	chats := &stubChatService{replies: []chat.Message{
		{ID: "c-1", Sender: chat.SenderClinician, Content: "rest up"},
	}}
	r := newTestRouter(chats, &stubEscalationService{})

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/conversations/conv-1/replies?since=2026-08-26T10:00:00Z", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if chats.lastConversationID != "conv-1" {
		t.Errorf("conversation id = %q", chats.lastConversationID)
	}
	want := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	if !chats.lastSince.Equal(want) {
		t.Errorf("since = %v, want %v", chats.lastSince, want)
	}

	var got struct {
		Replies []chat.Message `json:"replies"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Replies) != 1 || got.Replies[0].ID != "c-1" {
		t.Errorf("replies = %+v", got.Replies)
	}
}

func TestPollReplies_BadSince(t *testing.T) {
	t.Parallel()

	r := newTestRouter(&stubChatService{}, &stubEscalationService{})
	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/conversations/conv-1/replies?since=yesterday", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCreateEscalation(t *testing.T) {
	t.Parallel()

	escs := &stubEscalationService{escalation: &escalation.Escalation{
		ID: "e-1", Status: escalation.StatusPending, Priority: escalation.PriorityHigh,
	}}
	r := newTestRouter(&stubChatService{}, escs)

	body := `{"conversation_id":"conv-1","patient_id":"` + testPatientID + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/escalations", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body = %s", rec.Code, rec.Body.String())
	}
	var got escalation.Escalation
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != "e-1" || got.Priority != escalation.PriorityHigh {
		t.Errorf("escalation = %+v", got)
	}
}

func TestCreateEscalation_AlreadyOpen(t *testing.T) {
	t.Parallel()

	r := newTestRouter(&stubChatService{}, &stubEscalationService{err: escalation.ErrAlreadyOpen})
	body := `{"conversation_id":"conv-1","patient_id":"` + testPatientID + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/escalations", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestClinicianRoutes_RequireToken(t *testing.T) {
	t.Parallel()

	r := newTestRouter(&stubChatService{}, &stubEscalationService{
		escalation: &escalation.Escalation{ID: "e-1"},
	})

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/patients"},
		{http.MethodGet, "/api/v1/escalations/e-1"},
		{http.MethodPost, "/api/v1/escalations/e-1/reply"},
		{http.MethodPost, "/api/v1/escalations/e-1/resolve"},
		{http.MethodGet, "/api/v1/clinics/" + testClinicID + "/queue"},
	}
	for _, p := range paths {
		req := httptest.NewRequest(p.method, p.path, strings.NewReader(`{"content":"x"}`))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without token: status = %d, want 401", p.method, p.path, rec.Code)
		}
	}
}

func TestRegisterPatient(t *testing.T) {
	t.Parallel()

	chats := &stubChatService{}
	r := newTestRouter(chats, &stubEscalationService{})

	body := fmt.Sprintf(`{"id":%q,"clinic_id":%q,"first_name":"Alice","last_name":"Tan"}`,
		testPatientID, testClinicID)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if chats.lastPatientID != testPatientID {
		t.Errorf("patient id = %q, want %q", chats.lastPatientID, testPatientID)
	}
}

func TestRegisterPatient_Validation(t *testing.T) {
	t.Parallel()

	r := newTestRouter(&stubChatService{}, &stubEscalationService{})

	tests := []struct {
		name string
		body string
	}{
		{"non-uuid id", `{"id":"pat-1","clinic_id":"` + testClinicID + `","first_name":"Alice"}`},
		{"non-uuid clinic", `{"id":"` + testPatientID + `","clinic_id":"clinic-1","first_name":"Alice"}`},
		{"no name", fmt.Sprintf(`{"id":%q,"clinic_id":%q}`, testPatientID, testClinicID)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/patients", strings.NewReader(tt.body))
			req.Header.Set("Authorization", "Bearer "+testToken)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestEscalationReply(t *testing.T) {
	t.Parallel()

	escs := &stubEscalationService{message: &chat.Message{
		ID: "c-1", Sender: chat.SenderClinician, Content: "stop the ibuprofen",
	}}
	r := newTestRouter(&stubChatService{}, escs)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/escalations/e-1/reply",
		strings.NewReader(`{"content":"stop the ibuprofen"}`))
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body = %s", rec.Code, rec.Body.String())
	}

	// Empty content is rejected before reaching the service.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/escalations/e-1/reply",
		strings.NewReader(`{"content":""}`))
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty content: status = %d, want 400", rec.Code)
	}

	// A clinician id, when given, must be a UUID and reaches the
	// service untouched.
	clinician := "7b7f4aa8-bd71-4b0a-9ec5-6f3f0e1a54fb"
	req = httptest.NewRequest(http.MethodPost, "/api/v1/escalations/e-1/reply",
		strings.NewReader(`{"content":"rest today","clinician_id":"`+clinician+`"}`))
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("with clinician: status = %d, want 201; body = %s", rec.Code, rec.Body.String())
	}
	if escs.lastClinician != clinician {
		t.Errorf("clinician = %q, want %q", escs.lastClinician, clinician)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/escalations/e-1/reply",
		strings.NewReader(`{"content":"rest today","clinician_id":"not-a-uuid"}`))
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad clinician id: status = %d, want 400", rec.Code)
	}
}

func TestResolveEscalation_Notes(t *testing.T) {
	t.Parallel()

	escs := &stubEscalationService{escalation: &escalation.Escalation{
		ID: "e-1", Status: escalation.StatusResolved,
	}}
	r := newTestRouter(&stubChatService{}, escs)

	body := strings.NewReader(`{"notes":"advised rest"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/escalations/e-1/resolve", body)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if escs.lastNotes != "advised rest" {
		t.Errorf("notes = %q, want %q", escs.lastNotes, "advised rest")
	}

	// No body at all is fine too.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/escalations/e-1/resolve", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("empty body: status = %d, want 200", rec.Code)
	}
}

func TestResolveEscalation_Conflict(t *testing.T) {
	t.Parallel()

	r := newTestRouter(&stubChatService{}, &stubEscalationService{err: escalation.ErrResolved})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/escalations/e-1/resolve", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestClinicQueue(t *testing.T) {
	t.Parallel()

	escs := &stubEscalationService{queue: []escalation.Escalation{
		{ID: "e-1", Priority: escalation.PriorityUrgent},
		{ID: "e-2", Priority: escalation.PriorityMedium},
	}}
	r := newTestRouter(&stubChatService{}, escs)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/clinics/"+testClinicID+"/queue", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got struct {
		Escalations []escalation.Escalation `json:"escalations"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Escalations) != 2 || got.Escalations[0].ID != "e-1" {
		t.Errorf("queue = %+v", got.Escalations)
	}

	// Non-UUID clinic id is rejected.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/clinics/clinic-1/queue", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad clinic id: status = %d, want 400", rec.Code)
	}
}
