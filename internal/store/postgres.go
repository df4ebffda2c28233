package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"shipsync/internal/model"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir applies every .sql file in dir in name order. Dev helper; the
// statements are idempotent (CREATE TABLE IF NOT EXISTS).
func (p *Postgres) MigrateDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	names := []string{}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if _, err := p.db.Exec(string(b)); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
	}
	return nil
}

const orderCols = `id, order_number, restaurant_id, shop_id, provider, dsp_order_id, shipping_status,
	driver_name, driver_phone, driver_latitude, driver_longitude,
	delivery_name, delivery_phone, delivery_address, customer_latitude, customer_longitude,
	payment_method, total, special_instructions, scheduled_for`

func scanOrder(row interface{ Scan(...any) error }) (model.Order, error) {
	var o model.Order
	var shopID, provider, dspID, status, dName, dPhone sql.NullString
	var delName, delPhone, delAddr, payMethod, notes, sched sql.NullString
	if err := row.Scan(&o.ID, &o.OrderNumber, &o.RestaurantID, &shopID, &provider, &dspID, &status,
		&dName, &dPhone, &o.DriverLatitude, &o.DriverLongitude,
		&delName, &delPhone, &delAddr, &o.CustomerLatitude, &o.CustomerLongitude,
		&payMethod, &o.Total, &notes, &sched); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return o, ErrNotFound
		}
		return o, err
	}
	o.ShopID = shopID.String
	o.Provider = provider.String
	o.DSPOrderID = dspID.String
	o.ShippingStatus = status.String
	o.DriverName = dName.String
	o.DriverPhone = dPhone.String
	o.DeliveryName = delName.String
	o.DeliveryPhone = delPhone.String
	o.DeliveryAddress = delAddr.String
	o.PaymentMethod = payMethod.String
	o.SpecialInstructions = notes.String
	o.ScheduledFor = sched.String
	return o, nil
}

func (p *Postgres) GetOrderByID(ctx context.Context, id int64) (model.Order, error) {
	return scanOrder(p.db.QueryRowContext(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1`, id))
}

func (p *Postgres) GetOrderByNumber(ctx context.Context, number string) (model.Order, error) {
	return scanOrder(p.db.QueryRowContext(ctx, `SELECT `+orderCols+` FROM orders WHERE order_number=$1`, number))
}

func (p *Postgres) GetOrderByDSPOrderID(ctx context.Context, dspID string) (model.Order, error) {
	return scanOrder(p.db.QueryRowContext(ctx, `SELECT `+orderCols+` FROM orders WHERE dsp_order_id=$1`, dspID))
}

func (p *Postgres) SetOrderDispatched(ctx context.Context, orderID int64, dspID, status string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE orders SET dsp_order_id=$1, shipping_status=$2, updated_at=now() WHERE id=$3`, dspID, status, orderID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// orderShippingPatch applies only the fields the update carries; absent
// fields keep their stored values.
func orderShippingPatch(u model.StatusUpdate) (string, []any) {
	set := `shipping_status=COALESCE(NULLIF($1,''), shipping_status),
		driver_name=COALESCE(NULLIF($2,''), driver_name),
		driver_phone=COALESCE(NULLIF($3,''), driver_phone),
		driver_latitude=COALESCE($4, driver_latitude),
		driver_longitude=COALESCE($5, driver_longitude),
		updated_at=now()`
	args := []any{u.Status, u.Driver.Name, u.Driver.Phone, u.Driver.Latitude, u.Driver.Longitude}
	return set, args
}

func (p *Postgres) UpdateOrderShippingByNumber(ctx context.Context, orderNumber string, patch model.StatusUpdate) error {
	set, args := orderShippingPatch(patch)
	args = append(args, orderNumber)
	res, err := p.db.ExecContext(ctx, `UPDATE orders SET `+set+` WHERE order_number=$6`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) UpdateOrderShippingByDSP(ctx context.Context, dspID string, patch model.StatusUpdate) error {
	set, args := orderShippingPatch(patch)
	args = append(args, dspID)
	res, err := p.db.ExecContext(ctx, `UPDATE orders SET `+set+` WHERE dsp_order_id=$6`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) RestaurantShopID(ctx context.Context, restaurantID int64) (string, error) {
	var shopID sql.NullString
	err := p.db.QueryRowContext(ctx, `SELECT shop_id FROM restaurants WHERE id=$1`, restaurantID).Scan(&shopID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return shopID.String, nil
}

func (p *Postgres) InsertShipment(ctx context.Context, rec model.ShipmentRecord) (int64, error) {
	var id int64
	err := p.db.QueryRowContext(ctx, `INSERT INTO shipping_orders
		(order_id, shop_id, provider, dsp_order_id, shipping_status, recipient_name, recipient_phone, recipient_address,
		 latitude, longitude, driver_name, driver_phone, driver_latitude, driver_longitude,
		 total, payment_type, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING id`,
		nullIfZero(rec.OrderID), nullIfEmpty(rec.ShopID), nullIfEmpty(rec.Provider), rec.DSPOrderID, rec.Status,
		nullIfEmpty(rec.RecipientName), nullIfEmpty(rec.RecipientPhone), nullIfEmpty(rec.RecipientAddress),
		rec.Latitude, rec.Longitude,
		nullIfEmpty(rec.DriverName), nullIfEmpty(rec.DriverPhone), rec.DriverLatitude, rec.DriverLongitude,
		rec.Total, rec.PaymentType, nullIfEmpty(rec.Notes)).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicate
		}
		return 0, err
	}
	return id, nil
}

const shipmentCols = `id, order_id, shop_id, provider, dsp_order_id, shipping_status, recipient_name, recipient_phone,
	recipient_address, latitude, longitude, driver_name, driver_phone, driver_latitude, driver_longitude,
	total, payment_type, notes, created_at, updated_at`

func scanShipment(row interface{ Scan(...any) error }) (model.ShipmentRecord, error) {
	var r model.ShipmentRecord
	var orderID sql.NullInt64
	var shopID, prov, rName, rPhone, rAddr, dName, dPhone, notes sql.NullString
	if err := row.Scan(&r.ID, &orderID, &shopID, &prov, &r.DSPOrderID, &r.Status, &rName, &rPhone,
		&rAddr, &r.Latitude, &r.Longitude, &dName, &dPhone, &r.DriverLatitude, &r.DriverLongitude,
		&r.Total, &r.PaymentType, &notes, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, ErrNotFound
		}
		return r, err
	}
	r.OrderID = orderID.Int64
	r.ShopID = shopID.String
	r.Provider = prov.String
	r.RecipientName = rName.String
	r.RecipientPhone = rPhone.String
	r.RecipientAddress = rAddr.String
	r.DriverName = dName.String
	r.DriverPhone = dPhone.String
	r.Notes = notes.String
	return r, nil
}

func (p *Postgres) GetShipmentByDSPOrderID(ctx context.Context, dspID string) (model.ShipmentRecord, error) {
	return scanShipment(p.db.QueryRowContext(ctx, `SELECT `+shipmentCols+` FROM shipping_orders WHERE dsp_order_id=$1`, dspID))
}

func (p *Postgres) UpdateShipmentByDSP(ctx context.Context, dspID string, patch model.StatusUpdate) error {
	res, err := p.db.ExecContext(ctx, `UPDATE shipping_orders SET
		shipping_status=COALESCE(NULLIF($1,''), shipping_status),
		driver_name=COALESCE(NULLIF($2,''), driver_name),
		driver_phone=COALESCE(NULLIF($3,''), driver_phone),
		driver_latitude=COALESCE($4, driver_latitude),
		driver_longitude=COALESCE($5, driver_longitude),
		updated_at=now()
		WHERE dsp_order_id=$6`,
		patch.Status, patch.Driver.Name, patch.Driver.Phone, patch.Driver.Latitude, patch.Driver.Longitude, dspID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListShipments(ctx context.Context, status, cursor string, limit int) ([]model.ShipmentRecord, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if status != "" {
		if cursor != "" {
			rows, err = p.db.QueryContext(ctx, `SELECT `+shipmentCols+` FROM shipping_orders WHERE shipping_status=$1 AND id > $2 ORDER BY id LIMIT $3`, status, cursor, limit)
		} else {
			rows, err = p.db.QueryContext(ctx, `SELECT `+shipmentCols+` FROM shipping_orders WHERE shipping_status=$1 ORDER BY id LIMIT $2`, status, limit)
		}
	} else {
		if cursor != "" {
			rows, err = p.db.QueryContext(ctx, `SELECT `+shipmentCols+` FROM shipping_orders WHERE id > $1 ORDER BY id LIMIT $2`, cursor, limit)
		} else {
			rows, err = p.db.QueryContext(ctx, `SELECT `+shipmentCols+` FROM shipping_orders ORDER BY id LIMIT $1`, limit)
		}
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.ShipmentRecord{}
	for rows.Next() {
		r, err := scanShipment(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, r)
	}
	var next string
	if len(out) == limit {
		next = itoa64(out[len(out)-1].ID)
	}
	return out, next, rows.Err()
}

func (p *Postgres) ListOpenShipments(ctx context.Context, limit int) ([]model.ShipmentRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	rows, err := p.db.QueryContext(ctx, `SELECT `+shipmentCols+` FROM shipping_orders
		WHERE shipping_status NOT IN ($1,$2) ORDER BY updated_at LIMIT $3`,
		model.StatusCompleted, model.StatusCancelled, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ShipmentRecord{}
	for rows.Next() {
		r, err := scanShipment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) MaxFallbackSuffix(ctx context.Context, prefix string) (int, error) {
	var max sql.NullInt64
	err := p.db.QueryRowContext(ctx, `SELECT MAX((substring(dsp_order_id from length($1)+1))::int)
		FROM shipping_orders WHERE dsp_order_id LIKE $1 || '%'
		AND substring(dsp_order_id from length($1)+1) ~ '^[0-9]+$'`, prefix).Scan(&max)
	if err != nil {
		return 0, err
	}
	return int(max.Int64), nil
}

func (p *Postgres) GetSetting(ctx context.Context, key string) (string, error) {
	var v string
	err := p.db.QueryRowContext(ctx, `SELECT value FROM app_settings WHERE key=$1`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return v, err
}

func (p *Postgres) SetSetting(ctx context.Context, key, value string) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO app_settings (key, value) VALUES ($1,$2)
		ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, updated_at=now()`, key, value)
	return err
}
