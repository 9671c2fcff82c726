package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"hotel_sync/internal/domain"
)

// LoadAggregates reads the whole property graph from one snapshot.
func (r *Repo) LoadAggregates(ctx context.Context) ([]domain.PropertyAggregate, error) {
	const op = "mysql.LoadAggregates"
	var out []domain.PropertyAggregate
	err := r.withTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}, func(tx *sql.Tx) error {
		var err error
		out, err = loadProperties(ctx, tx)
		if err != nil {
			return err
		}
		pos := make(map[int64]int, len(out))
		for i, p := range out {
			pos[p.ID] = i
		}
		if err := loadAmenities(ctx, tx, out, pos); err != nil {
			return err
		}
		if err := loadRooms(ctx, tx, out, pos); err != nil {
			return err
		}
		return loadRatePlans(ctx, tx, out, pos)
	})
	if err != nil {
		return nil, storeErr(op, err)
	}
	return out, nil
}

func loadProperties(ctx context.Context, tx *sql.Tx) ([]domain.PropertyAggregate, error) {
	rows, err := tx.QueryContext(ctx, selectPropertiesSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PropertyAggregate
	for rows.Next() {
		var (
			p                                 domain.PropertyAggregate
			stars                             sql.NullInt32
			catID                             sql.NullInt64
			catName                           sql.NullString
			line1, city, state, country, post sql.NullString
			lat, lon                          sql.NullFloat64
		)
		if err := rows.Scan(&p.ID, &p.HotelCode, &p.Name, &stars, &p.UpdatedAt,
			&catID, &catName, &line1, &city, &state, &country, &post, &lat, &lon); err != nil {
			return nil, err
		}
		if stars.Valid {
			s := int(stars.Int32)
			p.Stars = &s
		}
		p.Category = domain.Category{ID: catID.Int64, Name: catName.String}
		p.Address = domain.Address{
			Line1: line1.String, City: city.String, State: state.String,
			Country: country.String, PostalCode: post.String,
		}
		if lat.Valid && lon.Valid {
			p.Address.Coords = &domain.Coords{Lat: lat.Float64, Lon: lon.Float64}
		}
		p.UpdatedAt = p.UpdatedAt.UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func loadAmenities(ctx context.Context, tx *sql.Tx, out []domain.PropertyAggregate, pos map[int64]int) error {
	rows, err := tx.QueryContext(ctx, selectAmenitiesSQL)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			pid  int64
			name string
		)
		if err := rows.Scan(&pid, &name); err != nil {
			return err
		}
		if i, ok := pos[pid]; ok {
			out[i].Amenities = append(out[i].Amenities, name)
		}
	}
	return rows.Err()
}

func loadRooms(ctx context.Context, tx *sql.Tx, out []domain.PropertyAggregate, pos map[int64]int) error {
	rows, err := tx.QueryContext(ctx, selectRoomsSQL)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			pid int64
			rm  domain.Room
		)
		if err := rows.Scan(&pid, &rm.ID, &rm.InvTypeCode, &rm.Name, &rm.MaxOccupancy, &rm.Units); err != nil {
			return err
		}
		if i, ok := pos[pid]; ok {
			out[i].Rooms = append(out[i].Rooms, rm)
		}
	}
	return rows.Err()
}

func loadRatePlans(ctx context.Context, tx *sql.Tx, out []domain.PropertyAggregate, pos map[int64]int) error {
	rows, err := tx.QueryContext(ctx, selectRatePlansSQL)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			pid int64
			rp  domain.RatePlan
		)
		if err := rows.Scan(&pid, &rp.Code, &rp.Name, &rp.InvTypeCode, &rp.CurrencyCode); err != nil {
			return err
		}
		if i, ok := pos[pid]; ok {
			out[i].RatePlans = append(out[i].RatePlans, rp)
		}
	}
	return rows.Err()
}

// ListRatePlanLines returns lines grouped by property, in stored order. A
// ref without a hotel matches the code in every hotel; no refs selects every
// plan.
func (r *Repo) ListRatePlanLines(ctx context.Context, refs []domain.RatePlanRef) ([]domain.RatePlanLine, error) {
	const op = "mysql.ListRatePlanLines"
	where := ""
	args := make([]any, 0, 2*len(refs))
	if len(refs) > 0 {
		conds := make([]string, 0, len(refs))
		for _, ref := range refs {
			if ref.HotelCode == "" {
				conds = append(conds, "rp.code = ?")
				args = append(args, ref.Code)
				continue
			}
			conds = append(conds, "(p.hotel_code = ? AND rp.code = ?)")
			args = append(args, ref.HotelCode, ref.Code)
		}
		where = "WHERE " + strings.Join(conds, " OR ")
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(selectRatePlanLinesSQL, where), args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	var out []domain.RatePlanLine
	for rows.Next() {
		var (
			l           domain.RatePlanLine
			mask        uint8
			base, extra []byte
		)
		if err := rows.Scan(&l.HotelCode, &l.HotelName, &l.RatePlanCode, &l.InvTypeCode, &l.CurrencyCode,
			&l.StartDate, &l.EndDate, &mask, &base, &extra); err != nil {
			return nil, storeErr(op, err)
		}
		l.WeekdayMask = domain.WeekdayMask(mask)
		if err := json.Unmarshal(base, &l.BaseAmountsByOccupancy); err != nil {
			return nil, domain.E(domain.KindSchemaViolation, op, fmt.Errorf("rate plan %s base amounts: %w", l.RatePlanCode, err))
		}
		if len(extra) > 0 {
			if err := json.Unmarshal(extra, &l.ExtraGuestAmounts); err != nil {
				return nil, domain.E(domain.KindSchemaViolation, op, fmt.Errorf("rate plan %s extra amounts: %w", l.RatePlanCode, err))
			}
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return out, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
