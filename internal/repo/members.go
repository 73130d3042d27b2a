package repo

import (
	"context"
	"database/sql"
	"errors"

	"statusline/internal/domain"
)

const memberColumns = `id,display_name,channel_address,created_at`

func (r Repo) InsertMember(ctx context.Context, m domain.Member) error {
	if m.ID == "" {
		return errors.New("member id required")
	}
	if m.ChannelAddress == "" {
		return errors.New("channel address required")
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO members(`+memberColumns+`) VALUES (?,?,?,?)`,
		m.ID, m.DisplayName, m.ChannelAddress, m.CreatedAt)
	return err
}

// GetMemberByChannelAddress is an exact-match lookup on the unique address column.
func (r Repo) GetMemberByChannelAddress(ctx context.Context, address string) (domain.Member, error) {
	var m domain.Member
	err := r.DB.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE channel_address=? LIMIT 1`, address).
		Scan(&m.ID, &m.DisplayName, &m.ChannelAddress, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return m, ErrNotFound
	}
	return m, err
}

func (r Repo) ListMembers(ctx context.Context) ([]domain.Member, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+memberColumns+` FROM members ORDER BY display_name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Member
	for rows.Next() {
		var m domain.Member
		if err := rows.Scan(&m.ID, &m.DisplayName, &m.ChannelAddress, &m.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
