package perms

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/Alexander-D-Karpov/permd/internal/common/errors"
	"github.com/Alexander-D-Karpov/permd/internal/observability"
)

// DefaultGroupName is the privileged fallback group. It always exists and can
// never be deleted; a principal that would otherwise end up group-less is put
// back into it permanently.
const DefaultGroupName = "Default"

const expirationTimeLayout = "02-01-2006 15:04:05"

// Service owns the authoritative in-memory permission state: groups, users
// and the per-user effective permission cache. All mutations update the cache
// synchronously on the caller's goroutine before returning; durability writes
// go through the repository fire-and-forget. A nil repository runs the
// service memory-only.
type Service struct {
	logger  *zap.Logger
	repo    *Repository
	metrics *observability.Metrics

	mu          sync.RWMutex
	groups      map[string]*group
	users       map[uuid.UUID]*user
	effective   map[uuid.UUID]map[string]Decision
	bulkLoading bool

	now func() time.Time
}

func NewService(logger *zap.Logger, repo *Repository, metrics *observability.Metrics) *Service {
	return &Service{
		logger:    logger,
		repo:      repo,
		metrics:   metrics,
		groups:    make(map[string]*group),
		users:     make(map[uuid.UUID]*user),
		effective: make(map[uuid.UUID]map[string]Decision),
		now:       time.Now,
	}
}

// EnsureDefaultGroup guarantees the default group exists in memory and seeds
// it in storage without clobbering an existing customized row.
func (s *Service) EnsureDefaultGroup() {
	s.mu.Lock()
	g, ok := s.groups[DefaultGroupName]
	if !ok {
		g = newGroup(DefaultGroupName)
		s.groups[DefaultGroupName] = g
	}
	priority, prefix := g.priority, g.prefix
	s.mu.Unlock()

	if s.repo != nil {
		s.repo.InsertGroupIfAbsent(DefaultGroupName, priority, prefix)
	}
}

// CreateGroup registers a new empty group. Returns false for a blank name or
// when the name is already taken.
func (s *Service) CreateGroup(name string) bool {
	if strings.TrimSpace(name) == "" {
		return false
	}

	s.mu.Lock()
	if _, exists := s.groups[name]; exists {
		s.mu.Unlock()
		return false
	}
	g := newGroup(name)
	s.groups[name] = g
	priority, prefix := g.priority, g.prefix
	s.mu.Unlock()

	if s.repo != nil {
		s.repo.UpsertGroup(name, priority, prefix)
	}
	return true
}

// DeleteGroup removes a group and every membership referencing it. The
// default group is protected against deletion, matched case-insensitively.
// Users left with no memberships regain the default group permanently.
func (s *Service) DeleteGroup(name string) bool {
	if strings.TrimSpace(name) == "" {
		return false
	}
	if strings.EqualFold(name, DefaultGroupName) {
		return false
	}

	s.mu.Lock()
	removed, ok := s.groups[name]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.groups, name)

	for id, u := range s.users {
		permanent, temporary := u.removeGroupFold(name)
		if !permanent && !temporary {
			continue
		}
		if u.isGroupless() {
			u.groups[DefaultGroupName] = struct{}{}
		}
		s.rebuildUserLocked(id)
	}
	s.mu.Unlock()

	if s.repo != nil {
		s.repo.DeleteGroup(removed.name)
	}
	return true
}

func (s *Service) SetGroupPriority(name string, priority int) error {
	s.mu.Lock()
	g, err := s.requireGroupLocked(name)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	g.priority = priority
	prefix := g.prefix
	s.rebuildAllUsersWithGroupLocked(name)
	s.mu.Unlock()

	if s.repo != nil {
		s.repo.UpsertGroup(name, priority, prefix)
	}
	return nil
}

func (s *Service) SetGroupPrefix(name, prefix string) error {
	s.mu.Lock()
	g, err := s.requireGroupLocked(name)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	g.prefix = prefix
	priority := g.priority
	s.rebuildAllUsersWithGroupLocked(name)
	s.mu.Unlock()

	if s.repo != nil {
		s.repo.UpsertGroup(name, priority, prefix)
	}
	return nil
}

// AddGroupPermission sets a node decision on a group and rebuilds the cache
// of every principal currently in that group.
func (s *Service) AddGroupPermission(name, node string, decision Decision) error {
	if strings.TrimSpace(node) == "" {
		return apperrors.BadRequest("permission node must not be blank")
	}

	s.mu.Lock()
	g, err := s.requireGroupLocked(name)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	g.permissions[node] = decision
	s.rebuildAllUsersWithGroupLocked(name)
	s.mu.Unlock()

	if s.repo != nil {
		s.repo.UpsertGroupPermission(name, node, decision)
	}
	return nil
}

// RemoveGroupPermission clears a node from a group. Returns false when the
// node was not present.
func (s *Service) RemoveGroupPermission(name, node string) (bool, error) {
	if strings.TrimSpace(node) == "" {
		return false, apperrors.BadRequest("permission node must not be blank")
	}

	s.mu.Lock()
	g, err := s.requireGroupLocked(name)
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	if _, present := g.permissions[node]; !present {
		s.mu.Unlock()
		return false, nil
	}
	delete(g.permissions, node)
	s.rebuildAllUsersWithGroupLocked(name)
	s.mu.Unlock()

	if s.repo != nil {
		s.repo.DeleteGroupPermission(name, node)
	}
	return true, nil
}

// UserAddGroup adds a permanent membership. Returns false without a rebuild
// when the principal already holds the group permanently.
func (s *Service) UserAddGroup(id uuid.UUID, groupName string) (bool, error) {
	s.mu.Lock()
	if _, err := s.requireGroupLocked(groupName); err != nil {
		s.mu.Unlock()
		return false, err
	}

	u := s.userLocked(id)
	u.purgeExpired(s.now())

	if _, already := u.groups[groupName]; already {
		s.mu.Unlock()
		return false, nil
	}
	u.groups[groupName] = struct{}{}
	if !s.bulkLoading {
		s.rebuildUserLocked(id)
	}
	s.mu.Unlock()

	if s.repo != nil {
		s.repo.AddUserGroup(id, groupName)
	}
	return true, nil
}

// UserAddTemporaryGroup grants a membership that expires after duration.
// A grant for a group the principal already holds temporarily overwrites the
// previous expiry; the latest grant wins.
func (s *Service) UserAddTemporaryGroup(id uuid.UUID, groupName string, duration time.Duration) error {
	if duration <= 0 {
		return apperrors.BadRequest("duration must be positive")
	}

	s.mu.Lock()
	if _, err := s.requireGroupLocked(groupName); err != nil {
		s.mu.Unlock()
		return err
	}

	u := s.userLocked(id)
	u.purgeExpired(s.now())

	expiresAt := s.now().Add(duration)
	previous, had := u.tempGroups[groupName]
	u.tempGroups[groupName] = expiresAt

	changed := !had || !previous.Equal(expiresAt)
	if changed && !s.bulkLoading {
		s.rebuildUserLocked(id)
	}
	s.mu.Unlock()

	if changed && s.repo != nil {
		s.repo.UpsertUserTempGroup(id, groupName, expiresAt)
	}
	return nil
}

// UserRemoveGroup drops both the permanent and the temporary membership for
// the named group, case-insensitively. The no-orphan invariant is re-applied
// afterwards.
func (s *Service) UserRemoveGroup(id uuid.UUID, groupName string) bool {
	if strings.TrimSpace(groupName) == "" {
		return false
	}

	s.mu.Lock()
	u := s.userLocked(id)
	u.purgeExpired(s.now())

	removedPermanent, removedTemporary := u.removeGroupFold(groupName)
	changed := removedPermanent || removedTemporary
	if changed && !s.bulkLoading {
		s.rebuildUserLocked(id)
	}

	restoredDefault := false
	if u.isGroupless() {
		u.groups[DefaultGroupName] = struct{}{}
		restoredDefault = true
		if !s.bulkLoading {
			s.rebuildUserLocked(id)
		}
	}
	s.mu.Unlock()

	if s.repo != nil {
		if removedPermanent {
			s.repo.RemoveUserGroup(id, groupName)
		}
		if removedTemporary {
			s.repo.DeleteUserTempGroup(id, groupName)
		}
		if restoredDefault {
			s.repo.AddUserGroup(id, DefaultGroupName)
		}
	}
	return changed
}

// UserRemoveTemporaryGroup drops only the temporary membership for the named
// group, then re-applies the no-orphan invariant.
func (s *Service) UserRemoveTemporaryGroup(id uuid.UUID, groupName string) {
	s.mu.Lock()
	u := s.userLocked(id)
	u.purgeExpired(s.now())

	_, had := u.tempGroups[groupName]
	if had {
		delete(u.tempGroups, groupName)
		if !s.bulkLoading {
			s.rebuildUserLocked(id)
		}
	}

	restoredDefault := false
	if u.isGroupless() {
		u.groups[DefaultGroupName] = struct{}{}
		restoredDefault = true
		if !s.bulkLoading {
			s.rebuildUserLocked(id)
		}
	}
	s.mu.Unlock()

	if s.repo != nil {
		if had {
			s.repo.DeleteUserTempGroup(id, groupName)
		}
		if restoredDefault {
			s.repo.AddUserGroup(id, DefaultGroupName)
		}
	}
}

// Decide resolves a node for a principal. Lookup order: exact node, then
// dot-prefix wildcards from most to least specific, then the global wildcard.
// Decide never fails; missing data degrades to NotSet. A principal seen for
// the first time is materialized into the default group.
func (s *Service) Decide(id uuid.UUID, node string) Decision {
	if strings.TrimSpace(node) == "" {
		return NotSet
	}

	s.mu.Lock()
	if u, ok := s.users[id]; ok {
		if u.purgeExpired(s.now()) {
			s.rebuildUserLocked(id)
		}
	}

	m, ok := s.effective[id]
	if !ok {
		s.ensureUserDefaultLocked(id)
		m = s.effective[id]
	}
	s.mu.Unlock()

	d := resolveNode(m, node)
	s.metrics.RecordDecide(d.String())
	return d
}

func resolveNode(m map[string]Decision, node string) Decision {
	if m == nil {
		return NotSet
	}

	if d, ok := m[node]; ok && d != NotSet {
		return d
	}

	idx := len(node)
	for {
		idx = strings.LastIndex(node[:idx], ".")
		if idx < 0 {
			break
		}
		if d, ok := m[node[:idx]+".*"]; ok && d != NotSet {
			return d
		}
	}

	if d, ok := m["*"]; ok && d != NotSet {
		return d
	}
	return NotSet
}

// TickExpirations purges expired temporary memberships for one principal and
// tells storage to drop exactly the rows that just lapsed. Intended to be
// called periodically per active principal.
func (s *Service) TickExpirations(id uuid.UUID) {
	s.mu.Lock()
	u, ok := s.users[id]
	if !ok || len(u.tempGroups) == 0 {
		s.mu.Unlock()
		return
	}

	now := s.now()
	purged := u.purgeExpired(now)
	if purged && !s.bulkLoading {
		s.rebuildUserLocked(id)
	}
	s.mu.Unlock()

	if purged && s.repo != nil {
		s.repo.CleanupExpiredTempGroups(id, now)
	}
}

// SweepExpirations runs TickExpirations over every tracked principal.
func (s *Service) SweepExpirations() {
	s.mu.RLock()
	ids := make([]uuid.UUID, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		s.TickExpirations(id)
	}
}

// GetGroup returns a snapshot of the named group.
func (s *Service) GetGroup(name string) (GroupInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[name]
	if !ok {
		return GroupInfo{}, false
	}
	return g.snapshot(), true
}

func (s *Service) GetAllGroupNames() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.groups))
	for name := range s.groups {
		out = append(out, name)
	}
	s.mu.RUnlock()

	sortFold(out)
	return out
}

// GetUserGroupNames returns the principal's active groups, permanent and
// unexpired temporary, sorted case-insensitively.
func (s *Service) GetUserGroupNames(id uuid.UUID) []string {
	s.mu.Lock()
	u, ok := s.users[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	if u.purgeExpired(s.now()) {
		s.rebuildUserLocked(id)
	}

	active := u.activeGroupNames()
	out := make([]string, 0, len(active))
	for name := range active {
		out = append(out, name)
	}
	s.mu.Unlock()

	sortFold(out)
	return out
}

func (s *Service) GetUserPrimaryGroupName(id uuid.UUID) string {
	g, ok := s.primaryGroup(id)
	if !ok {
		return DefaultGroupName
	}
	return g.Name
}

func (s *Service) GetUserPrimaryPrefix(id uuid.UUID) string {
	g, ok := s.primaryGroup(id)
	if !ok {
		return ""
	}
	return g.Prefix
}

func (s *Service) GetUserPrimaryPriority(id uuid.UUID) int {
	g, ok := s.primaryGroup(id)
	if !ok {
		return 0
	}
	return g.Priority
}

// GetEffectivePermissions returns a copy of the principal's merged decision
// table.
func (s *Service) GetEffectivePermissions(id uuid.UUID) map[string]Decision {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.effective[id]
	if !ok {
		return map[string]Decision{}
	}
	out := make(map[string]Decision, len(m))
	for node, d := range m {
		out[node] = d
	}
	return out
}

// GetTemporaryGroupExpiration formats the expiry of a temporary membership,
// or "never" when none exists.
func (s *Service) GetTemporaryGroupExpiration(id uuid.UUID, groupName string) string {
	if strings.TrimSpace(groupName) == "" {
		return "never"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return "never"
	}
	if u.purgeExpired(s.now()) {
		s.rebuildUserLocked(id)
	}

	expiresAt, ok := u.tempGroups[groupName]
	if !ok {
		return "never"
	}
	return expiresAt.Format(expirationTimeLayout)
}

func (s *Service) UserHasPermanentGroup(id uuid.UUID, groupName string) bool {
	if strings.TrimSpace(groupName) == "" {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return false
	}
	for g := range u.groups {
		if strings.EqualFold(g, groupName) {
			return true
		}
	}
	return false
}

func (s *Service) UserHasTemporaryGroup(id uuid.UUID, groupName string) bool {
	if strings.TrimSpace(groupName) == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return false
	}
	if u.purgeExpired(s.now()) {
		s.rebuildUserLocked(id)
	}
	for g := range u.tempGroups {
		if strings.EqualFold(g, groupName) {
			return true
		}
	}
	return false
}

// LoadAllFromStorage bulk-loads all groups and group permissions. Per-user
// cache rebuilds are suspended for the duration; one rebuild pass over every
// tracked principal runs at the end.
func (s *Service) LoadAllFromStorage(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	s.mu.Lock()
	s.bulkLoading = true
	s.mu.Unlock()

	defer s.endBulkLoadAndRebuild()

	groupRows, err := s.repo.LoadAllGroups(ctx)
	if err != nil {
		return fmt.Errorf("load groups: %w", err)
	}

	permRows, err := s.repo.LoadAllGroupPermissions(ctx)
	if err != nil {
		return fmt.Errorf("load group permissions: %w", err)
	}

	s.mu.Lock()
	for _, row := range groupRows {
		g, ok := s.groups[row.Name]
		if !ok {
			g = newGroup(row.Name)
			s.groups[row.Name] = g
		}
		g.priority = row.Priority
		g.prefix = row.Prefix
	}
	for _, row := range permRows {
		if strings.TrimSpace(row.Node) == "" {
			continue
		}
		g, ok := s.groups[row.GroupName]
		if !ok {
			g = newGroup(row.GroupName)
			s.groups[row.GroupName] = g
		}
		g.permissions[row.Node] = row.Decision
	}
	s.mu.Unlock()

	s.EnsureDefaultGroup()
	return nil
}

func (s *Service) endBulkLoadAndRebuild() {
	s.mu.Lock()
	s.bulkLoading = false
	for id := range s.users {
		s.rebuildUserLocked(id)
	}
	s.mu.Unlock()
}

// LoadUserFromStorage hydrates one principal's memberships from storage and
// rebuilds their cache. Callers wait on the result before treating the
// principal as ready. A storage failure still leaves the principal in a
// usable baseline state (default group).
func (s *Service) LoadUserFromStorage(ctx context.Context, id uuid.UUID) error {
	if s.repo == nil {
		s.mu.Lock()
		s.ensureUserDefaultLocked(id)
		s.rebuildUserLocked(id)
		s.mu.Unlock()
		return nil
	}

	err := s.loadUser(ctx, id)
	if err != nil {
		s.logger.Error("failed to load user from storage",
			zap.String("uuid", id.String()),
			zap.Error(err),
		)
		s.mu.Lock()
		s.ensureUserDefaultLocked(id)
		s.rebuildUserLocked(id)
		s.mu.Unlock()
	}
	return err
}

func (s *Service) loadUser(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.EnsureUserRow(ctx, id); err != nil {
		return fmt.Errorf("ensure user row: %w", err)
	}

	permanent, err := s.repo.LoadUserPermanentGroups(ctx, id)
	if err != nil {
		return fmt.Errorf("load permanent groups: %w", err)
	}

	temporary, err := s.repo.LoadUserActiveTempGroups(ctx, id, s.now())
	if err != nil {
		return fmt.Errorf("load temporary groups: %w", err)
	}

	s.mu.Lock()
	u := s.userLocked(id)
	u.groups = make(map[string]struct{})
	u.tempGroups = make(map[string]time.Time)
	for _, name := range permanent {
		if strings.TrimSpace(name) != "" {
			u.groups[name] = struct{}{}
		}
	}
	for _, row := range temporary {
		if strings.TrimSpace(row.GroupName) != "" {
			u.tempGroups[row.GroupName] = row.ExpiresAt
		}
	}
	s.ensureUserDefaultLocked(id)
	s.rebuildUserLocked(id)
	s.mu.Unlock()

	return nil
}

// userLocked returns the principal's record, creating it lazily.
func (s *Service) userLocked(id uuid.UUID) *user {
	u, ok := s.users[id]
	if !ok {
		u = newUser(id)
		s.users[id] = u
	}
	return u
}

// ensureUserDefaultLocked puts a group-less principal into the default group
// permanently, rebuilding unless a bulk load is in flight.
func (s *Service) ensureUserDefaultLocked(id uuid.UUID) {
	u := s.userLocked(id)
	if !u.isGroupless() {
		return
	}

	u.groups[DefaultGroupName] = struct{}{}
	if !s.bulkLoading {
		s.rebuildUserLocked(id)
	}

	if s.repo != nil {
		s.repo.AddUserGroup(id, DefaultGroupName)
	}
}

func (s *Service) requireGroupLocked(name string) (*group, error) {
	g, ok := s.groups[name]
	if !ok {
		return nil, apperrors.NotFound(fmt.Sprintf("group not found: %s", name))
	}
	return g, nil
}

// rebuildUserLocked recomputes the principal's effective decision table from
// scratch: active groups sorted by ascending priority then case-insensitive
// name, later entries overwriting earlier ones on the same node.
func (s *Service) rebuildUserLocked(id uuid.UUID) {
	u := s.userLocked(id)
	u.purgeExpired(s.now())

	if u.isGroupless() {
		u.groups[DefaultGroupName] = struct{}{}
	}

	resolved := make([]*group, 0, len(u.groups)+len(u.tempGroups))
	for name := range u.activeGroupNames() {
		if g, ok := s.groups[name]; ok {
			resolved = append(resolved, g)
		}
	}

	sort.Slice(resolved, func(i, j int) bool {
		if resolved[i].priority != resolved[j].priority {
			return resolved[i].priority < resolved[j].priority
		}
		return strings.ToLower(resolved[i].name) < strings.ToLower(resolved[j].name)
	})

	merged := make(map[string]Decision)
	for _, g := range resolved {
		for node, decision := range g.permissions {
			merged[node] = decision
		}
	}

	s.effective[id] = merged
	s.metrics.RecordRebuild()
	s.metrics.SetTrackedUsers(len(s.users))
}

// rebuildAllUsersWithGroupLocked rebuilds every principal holding the group,
// permanently or temporarily, matched case-insensitively. Suppressed during
// bulk load.
func (s *Service) rebuildAllUsersWithGroupLocked(groupName string) {
	if s.bulkLoading {
		return
	}

	for id, u := range s.users {
		member := false
		for g := range u.groups {
			if strings.EqualFold(g, groupName) {
				member = true
				break
			}
		}
		if !member {
			for g := range u.tempGroups {
				if strings.EqualFold(g, groupName) {
					member = true
					break
				}
			}
		}
		if member {
			s.rebuildUserLocked(id)
		}
	}
}

// primaryGroup picks the single representative group for display purposes:
// highest priority wins, ties break on the case-insensitively smallest name.
func (s *Service) primaryGroup(id uuid.UUID) (GroupInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return GroupInfo{}, false
	}
	if u.purgeExpired(s.now()) {
		s.rebuildUserLocked(id)
	}

	var best *group
	for name := range u.activeGroupNames() {
		g, ok := s.groups[name]
		if !ok {
			continue
		}
		if best == nil {
			best = g
			continue
		}
		if g.priority > best.priority {
			best = g
			continue
		}
		if g.priority == best.priority &&
			strings.ToLower(g.name) < strings.ToLower(best.name) {
			best = g
		}
	}

	if best == nil {
		return GroupInfo{}, false
	}
	return best.snapshot(), true
}

func sortFold(names []string) {
	sort.Slice(names, func(i, j int) bool {
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})
}
