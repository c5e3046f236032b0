// Package store persists the per-asset nested-set comment trees.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/engage/models"
	"github.com/cppla/engage/tree"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrInvalidParent = errors.New("parent comment does not exist in this asset")
	ErrRootNode      = errors.New("asset root node cannot be modified")
)

// PseudonymName replaces the author name of erased comments.
const PseudonymName = "Anonymous"

// CommentStore reads and mutates comment trees. Every mutation of tree
// bounds runs in a transaction holding a row lock on the asset root.
type CommentStore struct {
	db *gorm.DB
}

// NewCommentStore creates a CommentStore.
func NewCommentStore(db *gorm.DB) *CommentStore {
	return &CommentStore{db: db}
}

// TreeQuery selects a window of an asset's depth-first comment sequence.
// With States set, comments outside States hide their whole subtree.
type TreeQuery struct {
	AssetID uint
	States  []models.CommentState
	Offset  int
	Limit   int
}

// Entry is a comment with its depth below the asset root.
type Entry struct {
	Comment models.Comment
	Depth   int
}

// TreePage is one window of the tree. Ancestors holds the chain above the
// first entry that falls outside the window.
type TreePage struct {
	Entries   []Entry
	Ancestors []Entry
	Total     int64
	Page      int
	PageSize  int
}

// ListQuery filters the moderation list.
type ListQuery struct {
	AssetID  uint
	State    *models.CommentState
	Email    string
	Search   string
	Page     int
	PageSize int
}

func bounds(c *models.Comment) tree.Bounds {
	return tree.Bounds{Left: c.Lft, Right: c.Rgt}
}

// ensureRoot creates the asset root when missing and locks it.
func ensureRoot(tx *gorm.DB, assetID uint) (*models.Comment, error) {
	slot := tree.RootSlot()
	owner := assetID
	root := models.Comment{
		AssetID:   assetID,
		AssetRoot: &owner,
		Lft:       slot.Left,
		Rgt:       slot.Right,
		Level:     slot.Level,
		State:     models.StatePublished,
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&root).Error; err != nil {
		return nil, fmt.Errorf("create asset root: %w", err)
	}
	return lockRoot(tx, assetID)
}

func lockRoot(tx *gorm.DB, assetID uint) (*models.Comment, error) {
	var root models.Comment
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("asset_root = ?", assetID).
		First(&root).Error
	if err != nil {
		return nil, fmt.Errorf("lock asset root %d: %w", assetID, err)
	}
	return &root, nil
}

func shiftBounds(tx *gorm.DB, assetID uint, s tree.Shift) error {
	if err := tx.Model(&models.Comment{}).
		Where("asset_id = ? AND rgt >= ?", assetID, s.From).
		UpdateColumn("rgt", gorm.Expr("rgt + ?", s.Delta)).Error; err != nil {
		return fmt.Errorf("shift right bounds: %w", err)
	}
	if err := tx.Model(&models.Comment{}).
		Where("asset_id = ? AND lft >= ?", assetID, s.From).
		UpdateColumn("lft", gorm.Expr("lft + ?", s.Delta)).Error; err != nil {
		return fmt.Errorf("shift left bounds: %w", err)
	}
	return nil
}

// Insert adds c as the last child of parentID (0 = top level) under assetID.
func (s *CommentStore) Insert(ctx context.Context, parentID, assetID uint, c *models.Comment) (*models.Comment, error) {
	return s.insert(ctx, parentID, assetID, c, false)
}

// InsertReply is Insert for public submissions: the parent and every
// ancestor must be published, otherwise ErrInvalidParent.
func (s *CommentStore) InsertReply(ctx context.Context, parentID, assetID uint, c *models.Comment) (*models.Comment, error) {
	return s.insert(ctx, parentID, assetID, c, true)
}

func (s *CommentStore) insert(ctx context.Context, parentID, assetID uint, c *models.Comment, publishedOnly bool) (*models.Comment, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		root, err := ensureRoot(tx, assetID)
		if err != nil {
			return err
		}
		parent := root
		if parentID != 0 {
			var p models.Comment
			err := tx.Where("id = ? AND asset_id = ? AND asset_root IS NULL", parentID, assetID).First(&p).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidParent
			}
			if err != nil {
				return err
			}
			if publishedOnly {
				ok, err := published(tx, &p)
				if err != nil {
					return err
				}
				if !ok {
					return ErrInvalidParent
				}
			}
			parent = &p
		}

		pb := bounds(parent)
		slot := tree.LastChild(pb, parent.Level)
		if err := shiftBounds(tx, assetID, tree.InsertShift(pb)); err != nil {
			return err
		}

		c.ID = 0
		c.AssetID = assetID
		c.AssetRoot = nil
		c.Lft, c.Rgt, c.Level = slot.Left, slot.Right, slot.Level
		c.ParentID = nil
		if !parent.IsRoot() {
			pid := parent.ID
			c.ParentID = &pid
		}
		return tx.Create(c).Error
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// published reports whether node and all its ancestors are published.
func published(tx *gorm.DB, node *models.Comment) (bool, error) {
	if node.State != models.StatePublished {
		return false, nil
	}
	var hidden int64
	err := tx.Model(&models.Comment{}).
		Where("asset_id = ? AND asset_root IS NULL AND lft < ? AND rgt > ? AND state <> ?",
			node.AssetID, node.Lft, node.Rgt, models.StatePublished).
		Count(&hidden).Error
	if err != nil {
		return false, fmt.Errorf("check ancestors: %w", err)
	}
	return hidden == 0, nil
}

// Remove deletes a comment and its subtree, returning the rows removed.
func (s *CommentStore) Remove(ctx context.Context, id uint) (int64, error) {
	return s.remove(ctx, id, nil)
}

// remove deletes the subtree of id under the asset lock. A non-nil keep is
// consulted once the lock is held; when it reports false nothing is deleted.
func (s *CommentStore) remove(ctx context.Context, id uint, keep func(tx *gorm.DB, node *models.Comment) (bool, error)) (int64, error) {
	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		node, err := find(tx, id)
		if err != nil {
			return err
		}
		if _, err := lockRoot(tx, node.AssetID); err != nil {
			return err
		}
		// bounds may have moved while waiting for the lock
		if node, err = find(tx, id); err != nil {
			return err
		}
		if keep != nil {
			ok, err := keep(tx, node)
			if err != nil || !ok {
				return err
			}
		}

		res := tx.Where("asset_id = ? AND lft BETWEEN ? AND ?", node.AssetID, node.Lft, node.Rgt).
			Delete(&models.Comment{})
		if res.Error != nil {
			return fmt.Errorf("delete subtree: %w", res.Error)
		}
		removed = res.RowsAffected
		return shiftBounds(tx, node.AssetID, tree.RemoveShift(bounds(node)))
	})
	return removed, err
}

func find(tx *gorm.DB, id uint) (*models.Comment, error) {
	var c models.Comment
	err := tx.First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if c.IsRoot() {
		return nil, ErrRootNode
	}
	return &c, nil
}

// Find returns a single non-root comment.
func (s *CommentStore) Find(ctx context.Context, id uint) (*models.Comment, error) {
	c, err := find(s.db.WithContext(ctx), id)
	if errors.Is(err, ErrRootNode) {
		return nil, ErrNotFound
	}
	return c, err
}

func visible(assetID uint, states []models.CommentState) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		db = db.Where("c.asset_id = ? AND c.asset_root IS NULL", assetID)
		if len(states) == 0 {
			return db
		}
		return db.Where("c.state IN ?", states).
			Where(`NOT EXISTS (SELECT 1 FROM comments a WHERE a.asset_id = c.asset_id
				AND a.asset_root IS NULL AND a.lft < c.lft AND a.rgt > c.rgt AND a.state NOT IN ?)`, states)
	}
}

// Tree returns a window of the asset's comments in depth-first order.
func (s *CommentStore) Tree(ctx context.Context, q TreeQuery) (*TreePage, error) {
	db := s.db.WithContext(ctx)
	page := &TreePage{}

	if err := db.Table("comments AS c").Scopes(visible(q.AssetID, q.States)).Count(&page.Total).Error; err != nil {
		return nil, fmt.Errorf("count comments: %w", err)
	}

	var rows []models.Comment
	query := db.Table("comments AS c").Select("c.*").Scopes(visible(q.AssetID, q.States)).Order("c.lft ASC")
	if q.Offset > 0 {
		query = query.Offset(q.Offset)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load comments: %w", err)
	}
	if len(rows) == 0 {
		return page, nil
	}

	var lead []models.Comment
	if first := rows[0]; first.Level > 1 {
		err := db.Where("asset_id = ? AND asset_root IS NULL AND lft < ? AND rgt > ?", q.AssetID, first.Lft, first.Rgt).
			Order("lft ASC").
			Find(&lead).Error
		if err != nil {
			return nil, fmt.Errorf("load ancestors: %w", err)
		}
	}

	all := make([]tree.Bounds, 0, len(lead)+len(rows))
	for i := range lead {
		all = append(all, bounds(&lead[i]))
	}
	for i := range rows {
		all = append(all, bounds(&rows[i]))
	}
	depths := tree.Depths(all)

	page.Ancestors = make([]Entry, len(lead))
	for i := range lead {
		page.Ancestors[i] = Entry{Comment: lead[i], Depth: depths[i]}
	}
	page.Entries = make([]Entry, len(rows))
	for i := range rows {
		page.Entries[i] = Entry{Comment: rows[i], Depth: depths[len(lead)+i]}
	}
	return page, nil
}

// CountDescendants counts the non-root comments of an asset, optionally
// restricted to visible states.
func (s *CommentStore) CountDescendants(ctx context.Context, assetID uint, states ...models.CommentState) (int64, error) {
	if len(states) == 0 {
		// every comment lies inside the root interval
		var root models.Comment
		err := s.db.WithContext(ctx).Where("asset_root = ?", assetID).Limit(1).Find(&root).Error
		if err != nil || root.ID == 0 {
			return 0, err
		}
		return int64(bounds(&root).Descendants()), nil
	}
	var n int64
	err := s.db.WithContext(ctx).Table("comments AS c").Scopes(visible(assetID, states)).Count(&n).Error
	return n, err
}

// List returns comments for the moderation console, newest first.
func (s *CommentStore) List(ctx context.Context, q ListQuery) ([]models.Comment, int64, error) {
	db := s.db.WithContext(ctx).Model(&models.Comment{}).Where("asset_root IS NULL")
	if q.AssetID != 0 {
		db = db.Where("asset_id = ?", q.AssetID)
	}
	if q.State != nil {
		db = db.Where("state = ?", *q.State)
	}
	if q.Email != "" {
		db = db.Where("LOWER(email) = ?", strings.ToLower(strings.TrimSpace(q.Email)))
	}
	if q.Search != "" {
		like := "%" + q.Search + "%"
		db = db.Where("body LIKE ? OR name LIKE ?", like, like)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var items []models.Comment
	err := db.Order("created_on DESC").Order("id DESC").
		Offset((q.Page - 1) * q.PageSize).
		Limit(q.PageSize).
		Find(&items).Error
	return items, total, err
}

// SetState changes the moderation state of a comment.
func (s *CommentStore) SetState(ctx context.Context, id uint, state models.CommentState) error {
	res := s.db.WithContext(ctx).Model(&models.Comment{}).
		Where("id = ? AND asset_root IS NULL", id).
		UpdateColumns(map[string]interface{}{"state": state, "modified_on": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateBody stores an edited body together with its screened state.
func (s *CommentStore) UpdateBody(ctx context.Context, id uint, body string, state models.CommentState, modifiedBy *uint) error {
	res := s.db.WithContext(ctx).Model(&models.Comment{}).
		Where("id = ? AND asset_root IS NULL", id).
		UpdateColumns(map[string]interface{}{
			"body":        body,
			"state":       state,
			"modified_by": modifiedBy,
			"modified_on": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountByState returns comment totals per moderation state.
func (s *CommentStore) CountByState(ctx context.Context) (map[models.CommentState]int64, error) {
	var rows []struct {
		State models.CommentState
		N     int64
	}
	err := s.db.WithContext(ctx).Model(&models.Comment{}).
		Select("state, COUNT(*) AS n").
		Where("asset_root IS NULL").
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := map[models.CommentState]int64{
		models.StatePublished:   0,
		models.StateUnpublished: 0,
		models.StateSpam:        0,
	}
	for _, r := range rows {
		out[r.State] = r.N
	}
	return out, nil
}

// AssetIDs lists every asset that has a comment tree.
func (s *CommentStore) AssetIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&models.Comment{}).
		Where("asset_root IS NOT NULL").
		Order("asset_id").
		Pluck("asset_id", &ids).Error
	return ids, err
}

// CheckIntegrity verifies the nested-set encoding and cached levels of one asset.
func (s *CommentStore) CheckIntegrity(ctx context.Context, assetID uint) error {
	var rows []models.Comment
	if err := s.db.WithContext(ctx).Where("asset_id = ?", assetID).Order("lft ASC").Find(&rows).Error; err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	if !rows[0].IsRoot() {
		return fmt.Errorf("asset %d: first node %d is not the root", assetID, rows[0].ID)
	}
	all := make([]tree.Bounds, len(rows))
	for i := range rows {
		all[i] = bounds(&rows[i])
	}
	if err := tree.Check(all); err != nil {
		return fmt.Errorf("asset %d: %w", assetID, err)
	}
	for i, d := range tree.Depths(all) {
		if rows[i].Level != d {
			return fmt.Errorf("asset %d: comment %d has level %d, expected %d", assetID, rows[i].ID, rows[i].Level, d)
		}
	}
	return nil
}

func identityScope(userID uint, email string) func(*gorm.DB) *gorm.DB {
	email = strings.ToLower(strings.TrimSpace(email))
	return func(db *gorm.DB) *gorm.DB {
		db = db.Where("asset_root IS NULL")
		switch {
		case userID != 0 && email != "":
			return db.Where("(created_by = ? OR (created_by IS NULL AND LOWER(email) = ?))", userID, email)
		case userID != 0:
			return db.Where("created_by = ?", userID)
		default:
			return db.Where("created_by IS NULL AND LOWER(email) = ?", email)
		}
	}
}

// ClaimByEmail rewrites guest comments filed with email to belong to userID.
// Running it again changes nothing.
func (s *CommentStore) ClaimByEmail(ctx context.Context, userID uint, email string) (int64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if userID == 0 || email == "" || strings.HasSuffix(email, pseudonymDomain) {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Model(&models.Comment{}).
		Where("asset_root IS NULL AND created_by IS NULL AND LOWER(email) = ?", email).
		UpdateColumns(map[string]interface{}{"created_by": userID, "name": "", "email": ""})
	return res.RowsAffected, res.Error
}

// ForIdentity returns every comment keyed to the account or guest email.
func (s *CommentStore) ForIdentity(ctx context.Context, userID uint, email string) ([]models.Comment, error) {
	if userID == 0 && strings.TrimSpace(email) == "" {
		return nil, nil
	}
	var items []models.Comment
	err := s.db.WithContext(ctx).Scopes(identityScope(userID, email)).
		Order("created_on ASC").Order("id ASC").
		Find(&items).Error
	return items, err
}

// Pseudonymize scrubs personal identifiers from every comment keyed to the
// account or guest email and returns the affected IDs in ascending order.
// Bodies and tree bounds are kept unless eraseBody is set.
func (s *CommentStore) Pseudonymize(ctx context.Context, userID uint, email string, eraseBody bool) ([]uint, error) {
	if userID == 0 && strings.TrimSpace(email) == "" {
		return nil, nil
	}
	var ids []uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Comment{}).Scopes(identityScope(userID, email)).Pluck("id", &ids).Error; err != nil {
			return err
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			updates := map[string]interface{}{
				"created_by": nil,
				"name":       PseudonymName,
				"email":      PseudonymEmail(id),
				"ip":         "",
				"user_agent": "",
			}
			if eraseBody {
				updates["body"] = ""
			}
			if err := tx.Model(&models.Comment{}).Where("id = ?", id).UpdateColumns(updates).Error; err != nil {
				return fmt.Errorf("pseudonymize comment %d: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

const pseudonymDomain = "@invalid.invalid"

// PseudonymEmail is the placeholder address written over an erased author.
func PseudonymEmail(id uint) string {
	return fmt.Sprintf("anonymous-%d%s", id, pseudonymDomain)
}

// DeleteSpamBatch removes up to limit spam comments created on or before
// cutoff and returns the rows removed. A spam comment is only purged when
// every reply below it is aged spam as well, so no other comment is ever
// deleted; spam that still carries other replies stays in place.
func (s *CommentStore) DeleteSpamBatch(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Table("comments AS c").
		Where("c.asset_root IS NULL AND c.state = ? AND c.created_on <= ?", models.StateSpam, cutoff).
		Where("NOT EXISTS (?)", s.db.Table("comments AS d").Select("1").
			Where("d.asset_id = c.asset_id AND d.lft > c.lft AND d.rgt < c.rgt").
			Where("(d.state <> ? OR d.created_on > ?)", models.StateSpam, cutoff)).
		Order("c.id ASC").
		Limit(limit).
		Pluck("c.id", &ids).Error
	if err != nil {
		return 0, err
	}
	var total int64
	for _, id := range ids {
		n, err := s.remove(ctx, id, func(tx *gorm.DB, node *models.Comment) (bool, error) {
			return purgeable(tx, node, cutoff)
		})
		if errors.Is(err, ErrNotFound) {
			// already gone with a spam ancestor
			continue
		}
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// purgeable re-checks a candidate under the asset lock, since a reply may
// have arrived after the candidates were listed.
func purgeable(tx *gorm.DB, node *models.Comment, cutoff time.Time) (bool, error) {
	if node.State != models.StateSpam || node.CreatedOn.After(cutoff) {
		return false, nil
	}
	var blocking int64
	err := tx.Model(&models.Comment{}).
		Where("asset_id = ? AND lft > ? AND rgt < ?", node.AssetID, node.Lft, node.Rgt).
		Where("state <> ? OR created_on > ?", models.StateSpam, cutoff).
		Count(&blocking).Error
	return blocking == 0, err
}
