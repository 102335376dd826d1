package legacy

import (
	"context"
	"fmt"
	"os"
	"time"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/iota-uz/salesorg/modules/org/domain/entities/position"
	"github.com/iota-uz/salesorg/modules/org/migration"
)

type fixtureFile struct {
	Version int              `yaml:"version"`
	Users   map[int64]string `yaml:"users"`
	Teams   []fixtureTeam    `yaml:"teams"`
}

type fixtureTeam struct {
	ID                 int64                `yaml:"id"`
	Name               string               `yaml:"name"`
	Description        string               `yaml:"description"`
	Active             *bool                `yaml:"active"`
	CreatedAt          time.Time            `yaml:"created_at"`
	Managers           []fixtureRow         `yaml:"managers"`
	DirectSupervisions []fixtureSupervision `yaml:"direct_supervisions"`
	Commission         *fixtureCommission   `yaml:"commission"`
}

// fixtureRow nests the legacy chain: a manager's reports are supervisors,
// theirs are team leads, and so on.
type fixtureRow struct {
	ID      int64        `yaml:"id"`
	User    int64        `yaml:"user"`
	Active  *bool        `yaml:"active"`
	Reports []fixtureRow `yaml:"reports"`
}

type fixtureSupervision struct {
	ID          int64      `yaml:"id"`
	Supervisor  int64      `yaml:"supervisor"`
	Subordinate int64      `yaml:"subordinate"`
	Kind        string     `yaml:"kind"`
	Start       time.Time  `yaml:"start"`
	End         *time.Time `yaml:"end"`
	Notes       string     `yaml:"notes"`
	Active      *bool      `yaml:"active"`
}

type fixtureCommission struct {
	Percentages map[position.Code]string `yaml:"percentages"`
	Active      *bool                    `yaml:"active"`
	CreatedAt   time.Time                `yaml:"created_at"`
}

type childKey struct {
	role   position.Code
	parent int64
}

// FixtureSource serves a legacy data set loaded from YAML.
type FixtureSource struct {
	teams    []migration.Team
	managers map[int64][]migration.RoleRow
	children map[childKey][]migration.RoleRow
	direct   map[int64][]migration.DirectSupervision
	tables   map[int64]migration.CommissionTable
}

func LoadFixture(path string) (*FixtureSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, gerrors.Wrapf(err, "read legacy fixture %s", path)
	}
	src, err := ParseFixture(data)
	if err != nil {
		return nil, gerrors.Wrapf(err, "legacy fixture %s", path)
	}
	return src, nil
}

func ParseFixture(data []byte) (*FixtureSource, error) {
	var f fixtureFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, gerrors.Wrap(err, "decode yaml")
	}
	if f.Version != 0 && f.Version != 1 {
		return nil, fmt.Errorf("unsupported fixture version %d", f.Version)
	}

	src := &FixtureSource{
		managers: map[int64][]migration.RoleRow{},
		children: map[childKey][]migration.RoleRow{},
		direct:   map[int64][]migration.DirectSupervision{},
		tables:   map[int64]migration.CommissionTable{},
	}
	seenTeams := map[int64]struct{}{}
	seenRows := map[position.Code]map[int64]struct{}{}

	for _, t := range f.Teams {
		if t.ID <= 0 {
			return nil, fmt.Errorf("team %q: id must be positive", t.Name)
		}
		if _, dup := seenTeams[t.ID]; dup {
			return nil, fmt.Errorf("duplicate team id %d", t.ID)
		}
		seenTeams[t.ID] = struct{}{}
		src.teams = append(src.teams, migration.Team{
			ID:          t.ID,
			Name:        t.Name,
			Description: t.Description,
			Active:      isActive(t.Active),
			CreatedAt:   t.CreatedAt,
		})

		for _, m := range t.Managers {
			if err := src.addRow(f.Users, seenRows, position.CodeManager, t.ID, m); err != nil {
				return nil, fmt.Errorf("team %d: %w", t.ID, err)
			}
		}

		for _, d := range t.DirectSupervisions {
			src.direct[t.ID] = append(src.direct[t.ID], migration.DirectSupervision{
				ID:                d.ID,
				TeamID:            t.ID,
				SupervisorUserID:  resolveUser(f.Users, d.Supervisor),
				SubordinateUserID: resolveUser(f.Users, d.Subordinate),
				Kind:              d.Kind,
				StartDate:         d.Start,
				EndDate:           d.End,
				Notes:             d.Notes,
				Active:            isActive(d.Active),
			})
		}

		if t.Commission != nil {
			src.tables[t.ID] = migration.CommissionTable{
				TeamID:      t.ID,
				Percentages: t.Commission.Percentages,
				Active:      isActive(t.Commission.Active),
				CreatedAt:   t.Commission.CreatedAt,
			}
		}
	}
	return src, nil
}

func (s *FixtureSource) addRow(
	users map[int64]string,
	seen map[position.Code]map[int64]struct{},
	role position.Code,
	parent int64,
	r fixtureRow,
) error {
	if r.ID <= 0 {
		return fmt.Errorf("%s row under %d: id must be positive", role, parent)
	}
	if seen[role] == nil {
		seen[role] = map[int64]struct{}{}
	}
	if _, dup := seen[role][r.ID]; dup {
		return fmt.Errorf("duplicate %s row id %d", role, r.ID)
	}
	seen[role][r.ID] = struct{}{}

	row := migration.RoleRow{
		ID:              r.ID,
		Role:            role,
		ParentID:        parent,
		UserID:          resolveUser(users, r.User),
		UserDisplayName: users[r.User],
		Active:          isActive(r.Active),
	}
	if role == position.CodeManager {
		s.managers[parent] = append(s.managers[parent], row)
	} else {
		key := childKey{role: role, parent: parent}
		s.children[key] = append(s.children[key], row)
	}

	child, ok := migration.ChildRole(role)
	if !ok {
		if len(r.Reports) > 0 {
			return fmt.Errorf("%s row %d cannot have reports", role, r.ID)
		}
		return nil
	}
	for _, rep := range r.Reports {
		if err := s.addRow(users, seen, child, r.ID, rep); err != nil {
			return err
		}
	}
	return nil
}

// resolveUser treats keys missing from the users table as dangling.
func resolveUser(users map[int64]string, key int64) uuid.UUID {
	if _, ok := users[key]; !ok {
		return uuid.Nil
	}
	return userID(key)
}

func isActive(v *bool) bool {
	return v == nil || *v
}

func (s *FixtureSource) ListTeams(context.Context) ([]migration.Team, error) {
	return append([]migration.Team(nil), s.teams...), nil
}

func (s *FixtureSource) ListManagers(_ context.Context, teamID int64) ([]migration.RoleRow, error) {
	return append([]migration.RoleRow(nil), s.managers[teamID]...), nil
}

func (s *FixtureSource) ListChildren(_ context.Context, parentRole position.Code, parentRowID int64) ([]migration.RoleRow, error) {
	child, ok := migration.ChildRole(parentRole)
	if !ok {
		return nil, nil
	}
	return append([]migration.RoleRow(nil), s.children[childKey{role: child, parent: parentRowID}]...), nil
}

func (s *FixtureSource) ListDirectSupervisions(_ context.Context, teamID int64) ([]migration.DirectSupervision, error) {
	return append([]migration.DirectSupervision(nil), s.direct[teamID]...), nil
}

func (s *FixtureSource) GetCommissionTable(_ context.Context, teamID int64) (migration.CommissionTable, error) {
	t, ok := s.tables[teamID]
	if !ok {
		return migration.CommissionTable{}, gerrors.Wrapf(migration.ErrNoCommissionTable, "team %d", teamID)
	}
	return t, nil
}
