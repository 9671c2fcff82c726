package mysql

const inventoryColumns = `id, hotel_code, inv_type_code, start_date, end_date, count, version, closed_at, updated_at`

const getInventorySQL = `
SELECT ` + inventoryColumns + `
FROM inventory
WHERE id = ?;
`

const findInventoryByKeySQL = `
SELECT ` + inventoryColumns + `
FROM inventory
WHERE hotel_code = ? AND inv_type_code = ? AND start_date = ? AND end_date = ?;
`

const insertInventorySQL = `
INSERT INTO inventory (hotel_code, inv_type_code, start_date, end_date, count, version)
VALUES (?, ?, ?, ?, ?, 1);
`

// Compare-and-set; closed ranges never match.
const updateInventoryCountSQL = `
UPDATE inventory
SET count = ?, version = version + 1
WHERE id = ? AND version = ? AND closed_at IS NULL;
`

const closeInventorySQL = `
UPDATE inventory
SET closed_at = ?, version = version + 1
WHERE id = ? AND version = ? AND closed_at IS NULL;
`

const appendChangeSQL = `
INSERT INTO change_log (collection, document_id, operation) VALUES (?, ?, ?);
`

const cancelExpiredPendingSQL = `
UPDATE payment_intents
SET status = 'Cancelled', updated_at = ?
WHERE status = 'Pending' AND created_at <= ?;
`

const selectPropertiesSQL = `
SELECT p.id, p.hotel_code, p.name, p.stars, p.updated_at,
       c.id, c.name,
       a.line1, a.city, a.state, a.country, a.postal_code, a.lat, a.lon
FROM properties p
LEFT JOIN categories c ON c.id = p.category_id
LEFT JOIN addresses a ON a.property_id = p.id
ORDER BY p.id;
`

const selectAmenitiesSQL = `
SELECT pa.property_id, am.name
FROM property_amenities pa
JOIN amenities am ON am.id = pa.amenity_id
ORDER BY pa.property_id, am.name;
`

const selectRoomsSQL = `
SELECT property_id, id, inv_type_code, name, max_occupancy, units
FROM rooms
ORDER BY property_id, id;
`

const selectRatePlansSQL = `
SELECT property_id, code, name, inv_type_code, currency_code
FROM rate_plans
ORDER BY property_id, code, inv_type_code;
`

// %s is replaced with an optional "WHERE rp.code IN (...)" filter.
const selectRatePlanLinesSQL = `
SELECT p.hotel_code, p.name, rp.code, rp.inv_type_code, rp.currency_code,
       l.start_date, l.end_date, l.weekday_mask, l.base_amounts, l.extra_amounts
FROM rate_plan_lines l
JOIN rate_plans rp ON rp.id = l.rate_plan_id
JOIN properties p ON p.id = rp.property_id
%s
ORDER BY p.id, rp.code, rp.inv_type_code, l.position, l.id;
`

const distributionColumns = `id, echo_token, hotel_code, hotel_name, lines_json, ack_status, attempt,
       line_errors, last_error, sent_at, next_attempt_at, created_at`

const insertDistributionSQL = `
INSERT INTO distribution_messages
  (echo_token, hotel_code, hotel_name, lines_json, ack_status, attempt, line_errors, last_error, sent_at, next_attempt_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`

// Only the sender holding the attempt may record its outcome. Acked rows are final.
const updateDistributionSQL = `
UPDATE distribution_messages
SET ack_status = ?, line_errors = ?, last_error = ?, sent_at = ?, next_attempt_at = ?
WHERE echo_token = ? AND attempt = ? AND ack_status <> 'Acked';
`

const claimDistributionAttemptSQL = `
UPDATE distribution_messages
SET attempt = attempt + 1, next_attempt_at = ?
WHERE id = ? AND attempt = ? AND ack_status <> 'Acked';
`

const getDistributionSQL = `
SELECT ` + distributionColumns + `
FROM distribution_messages
WHERE echo_token = ?;
`

const claimDueDistributionsSQL = `
SELECT ` + distributionColumns + `
FROM distribution_messages
WHERE ack_status IN ('Pending', 'Failed')
  AND next_attempt_at IS NOT NULL
  AND next_attempt_at <= ?
ORDER BY next_attempt_at, id
LIMIT ?
FOR UPDATE SKIP LOCKED;
`

const changeFloorSQL = `
SELECT trimmed_through FROM change_log_floor WHERE id = 1;
`

const changeHeadSQL = `
SELECT COALESCE(MAX(id), 0) FROM change_log;
`

// %s is the collection placeholder list. Rows younger than the settle
// window are held back so slower concurrent commits are not skipped.
const readChangesSQL = `
SELECT id, collection, document_id, operation, created_at
FROM change_log
WHERE id > ? AND created_at <= NOW(6) - INTERVAL ? MICROSECOND AND collection IN (%s)
ORDER BY id
LIMIT ?;
`

const trimBoundarySQL = `
SELECT COALESCE(MAX(id), 0) FROM change_log WHERE created_at < ?;
`

const trimChangesSQL = `
DELETE FROM change_log WHERE id <= ?;
`

const raiseFloorSQL = `
UPDATE change_log_floor SET trimmed_through = GREATEST(trimmed_through, ?) WHERE id = 1;
`
