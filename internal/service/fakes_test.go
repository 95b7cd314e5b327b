package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/noah-isme/kidguard-api/internal/models"
	"github.com/noah-isme/kidguard-api/internal/repository"
	appErrors "github.com/noah-isme/kidguard-api/pkg/errors"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeStore is an in-memory stand-in for the Postgres repositories.
type fakeStore struct {
	mu       sync.Mutex
	users    map[string]*models.User
	students map[string]*models.Student
	links    map[string]*models.Guardianship
	sessions map[string]*models.PickupSession
	logs     map[string]*models.PickupLog

	// beforeVerify runs inside Verify ahead of the conditional update.
	beforeVerify func(sessionID string)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    map[string]*models.User{},
		students: map[string]*models.Student{},
		links:    map[string]*models.Guardianship{},
		sessions: map[string]*models.PickupSession{},
		logs:     map[string]*models.PickupLog{},
	}
}

func (f *fakeStore) addUser(role models.UserRole, email string, approved bool) *models.User {
	u := &models.User{ID: uuid.NewString(), Email: email, Role: role, FirstName: strings.Split(email, "@")[0], LastName: "Test", Approved: approved}
	f.users[u.ID] = u
	return u
}

func (f *fakeStore) addStudent(first, last string) *models.Student {
	s := &models.Student{ID: uuid.NewString(), SchoolIDTag: "TAG-" + first, FirstName: first, LastName: last, Grade: "3"}
	f.students[s.ID] = s
	return s
}

func (f *fakeStore) link(userID, studentID string, primary bool) {
	f.links[userID+"|"+studentID] = &models.Guardianship{UserID: userID, StudentID: studentID, IsPrimary: primary, LinkedByUserID: userID}
}

// users

type fakeUserRepo struct{ *fakeStore }

func (f fakeUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f fakeUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		clone := *u
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (f fakeUserRepo) CountByRole(ctx context.Context, role models.UserRole) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, u := range f.users {
		if u.Role == role {
			count++
		}
	}
	return count, nil
}

func (f fakeUserRepo) Create(ctx context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == user.Email {
			return &pq.Error{Code: "23505", Constraint: "users_email_key"}
		}
		if u.Phone != nil && user.Phone != nil && *u.Phone == *user.Phone {
			return &pq.Error{Code: "23505", Constraint: "users_phone_key"}
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	clone := *user
	f.users[user.ID] = &clone
	return nil
}

func (f fakeUserRepo) List(ctx context.Context, filter models.UserFilter) ([]models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	users := []models.User{}
	for _, u := range f.users {
		if filter.Role != nil && u.Role != *filter.Role {
			continue
		}
		if filter.Approved != nil && u.Approved != *filter.Approved {
			continue
		}
		users = append(users, *u)
	}
	return users, nil
}

func (f fakeUserRepo) Approve(ctx context.Context, id string, roles []models.UserRole) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok || !models.HasRole(roles, u.Role) {
		return false, nil
	}
	u.Approved = true
	return true, nil
}

// students

type fakeStudentRepo struct{ *fakeStore }

func (f fakeStudentRepo) FindByID(ctx context.Context, id string) (*models.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.students[id]; ok {
		clone := *s
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (f fakeStudentRepo) List(ctx context.Context) ([]models.Student, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	students := []models.Student{}
	for _, s := range f.students {
		students = append(students, *s)
	}
	sort.Slice(students, func(i, j int) bool { return students[i].LastName < students[j].LastName })
	return students, nil
}

func (f fakeStudentRepo) Create(ctx context.Context, student *models.Student) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.students {
		if s.SchoolIDTag == student.SchoolIDTag {
			return &pq.Error{Code: "23505", Constraint: "students_school_id_tag_key"}
		}
	}
	student.ID = uuid.NewString()
	clone := *student
	f.students[student.ID] = &clone
	return nil
}

// guardianships

type fakeLinkRepo struct{ *fakeStore }

func (f fakeLinkRepo) Find(ctx context.Context, userID, studentID string) (*models.Guardianship, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.links[userID+"|"+studentID]; ok {
		clone := *l
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (f fakeLinkRepo) Upsert(ctx context.Context, link *models.Guardianship) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := link.UserID + "|" + link.StudentID
	if existing, ok := f.links[key]; ok {
		existing.IsPrimary = link.IsPrimary
		return nil
	}
	clone := *link
	f.links[key] = &clone
	return nil
}

func (f fakeLinkRepo) ListStudentsFor(ctx context.Context, userID string) ([]models.LinkedStudent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	students := []models.LinkedStudent{}
	for _, l := range f.links {
		if l.UserID != userID {
			continue
		}
		linker := f.users[l.LinkedByUserID]
		ls := models.LinkedStudent{Student: *f.students[l.StudentID], IsPrimary: l.IsPrimary}
		if linker != nil {
			ls.LinkerFirstName, ls.LinkerLastName = linker.FirstName, linker.LastName
		}
		students = append(students, ls)
	}
	sort.Slice(students, func(i, j int) bool { return students[i].LastName < students[j].LastName })
	return students, nil
}

// pickup sessions

type fakePickupRepo struct{ *fakeStore }

func (f fakePickupRepo) FindActive(ctx context.Context, guardianID, studentID string, now time.Time) (*models.PickupSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.GuardianID == guardianID && s.StudentID == studentID && s.Live(now) {
			clone := *s
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f fakePickupRepo) Issue(ctx context.Context, session *models.PickupSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.GuardianID != session.GuardianID || s.StudentID != session.StudentID || s.Status != models.PickupStatusGenerated {
			continue
		}
		if !s.ExpiresAt.After(session.CreatedAt) {
			s.Status = models.PickupStatusExpired
			continue
		}
		return &pq.Error{Code: "23505", Constraint: livePairConstraint}
	}
	for _, s := range f.sessions {
		if s.Token == session.Token {
			return &pq.Error{Code: "23505", Constraint: "pickup_sessions_qr_token_key"}
		}
	}
	session.ID = uuid.NewString()
	session.Status = models.PickupStatusGenerated
	clone := *session
	f.sessions[session.ID] = &clone
	return nil
}

func (f fakePickupRepo) FindByToken(ctx context.Context, token string) (*models.PickupSessionDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.Token != token {
			continue
		}
		guardian := f.users[s.GuardianID]
		student := f.students[s.StudentID]
		return &models.PickupSessionDetail{
			PickupSession:     *s,
			GuardianFirstName: guardian.FirstName,
			GuardianLastName:  guardian.LastName,
			GuardianPhone:     guardian.Phone,
			StudentFirstName:  student.FirstName,
			StudentLastName:   student.LastName,
			StudentGrade:      student.Grade,
		}, nil
	}
	return nil, sql.ErrNoRows
}

func (f fakePickupRepo) MarkExpired(ctx context.Context, sessionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok || s.Status != models.PickupStatusGenerated {
		return false, nil
	}
	s.Status = models.PickupStatusExpired
	return true, nil
}

func (f fakePickupRepo) FindLogBySession(ctx context.Context, sessionID string) (*models.PickupLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.logs[sessionID]; ok {
		clone := *l
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (f fakePickupRepo) Verify(ctx context.Context, log *models.PickupLog) error {
	if f.beforeVerify != nil {
		f.beforeVerify(log.SessionID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[log.SessionID]
	if !ok || !s.Live(log.VerifiedAt) {
		return repository.ErrSessionNotRedeemable
	}
	s.Status = models.PickupStatusVerified
	log.ID = uuid.NewString()
	clone := *log
	f.logs[log.SessionID] = &clone
	return nil
}

func (f fakePickupRepo) History(ctx context.Context, filter models.HistoryFilter) ([]models.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := []models.HistoryEntry{}
	for _, l := range f.logs {
		s := f.sessions[l.SessionID]
		if filter.StudentID != "" && s.StudentID != filter.StudentID {
			continue
		}
		student, guardian, security := f.students[s.StudentID], f.users[s.GuardianID], f.users[l.SecurityUserID]
		entries = append(entries, models.HistoryEntry{
			LogID:             l.ID,
			SessionID:         l.SessionID,
			VerifiedAt:        l.VerifiedAt,
			Notes:             l.Notes,
			StudentFirstName:  student.FirstName,
			StudentLastName:   student.LastName,
			Grade:             student.Grade,
			GuardianFirstName: guardian.FirstName,
			GuardianLastName:  guardian.LastName,
			SecurityFirstName: security.FirstName,
			SecurityLastName:  security.LastName,
			SecurityEmail:     security.Email,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].VerifiedAt.After(entries[j].VerifiedAt) })
	return entries, nil
}

// cache

type fakeCacheRepo struct {
	mu       sync.Mutex
	values   map[string][]byte
	counters map[string]int64
	deleted  []string
}

func newFakeCacheRepo() *fakeCacheRepo {
	return &fakeCacheRepo{values: map[string][]byte{}, counters: map[string]int64{}}
}

func (f *fakeCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (f *fakeCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.values[key] = raw
	f.mu.Unlock()
	return nil
}

func (f *fakeCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range f.values {
		if strings.HasPrefix(key, prefix) {
			delete(f.values, key)
			f.deleted = append(f.deleted, key)
		}
	}
	return nil
}

func (f *fakeCacheRepo) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters[key]++
	return f.counters[key], nil
}

// conflictingPickupRepo fails the first conflicts Issue calls with a live-pair
// violation without storing anything, as when the winning session is gone again
// by the time the loser looks for it.
type conflictingPickupRepo struct {
	fakePickupRepo
	conflicts int
}

func (r *conflictingPickupRepo) Issue(ctx context.Context, session *models.PickupSession) error {
	if r.conflicts > 0 {
		r.conflicts--
		return &pq.Error{Code: "23505", Constraint: livePairConstraint}
	}
	return r.fakePickupRepo.Issue(ctx, session)
}
