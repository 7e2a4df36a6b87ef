package sqlinline

// SQLite dialect of the ledger statements. Timestamps are unix milliseconds
// and the caller supplies "now" so comparisons stay integer-only.

const QSQLiteInsertGeneration = `--sql bd1cc36e-cbff-4051-8e45-b2f0def3733f
insert into generations (id, prediction_id, owner_id, kind, model, status, input, metadata, created_at, updated_at)
values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`

const QSQLiteSelectGenerationByID = `--sql b4f491b7-66b9-43c8-8ea0-b922c0ccc1b7
select id, prediction_id, owner_id, kind, model, status, input, metadata,
       storage_path, public_url, byte_size, mime_type, error_detail,
       created_at, started_at, completed_at, updated_at
from generations
where id = ?;
`

const QSQLiteSelectGenerationByPrediction = `--sql 8add424f-ea1d-4958-a94a-ef99fd328aed
select id, prediction_id, owner_id, kind, model, status, input, metadata,
       storage_path, public_url, byte_size, mime_type, error_detail,
       created_at, started_at, completed_at, updated_at
from generations
where prediction_id = ?;
`

const QSQLiteListGenerationsByOwner = `--sql 6df7ca04-dd45-4fc3-96e5-07828aed03c1
select id, prediction_id, owner_id, kind, model, status, input, metadata,
       storage_path, public_url, byte_size, mime_type, error_detail,
       created_at, started_at, completed_at, updated_at
from generations
where owner_id = ?
order by created_at desc, id desc
limit ?;
`

const QSQLiteListCompletedGenerationsByOwner = `--sql 82eeead5-3409-4c75-a783-a96d0cfe07dd
select id, prediction_id, owner_id, kind, model, status, input, metadata,
       storage_path, public_url, byte_size, mime_type, error_detail,
       created_at, started_at, completed_at, updated_at
from generations
where owner_id = ?
  and status = 'completed'
order by created_at desc, id desc
limit ?;
`

const QSQLiteListStaleGenerations = `--sql ca9183f3-d956-4d4a-a61d-b1d1bc260c89
select id, prediction_id, owner_id, kind, model, status, input, metadata,
       storage_path, public_url, byte_size, mime_type, error_detail,
       created_at, started_at, completed_at, updated_at
from generations
where status in ('pending', 'processing')
  and updated_at < ?
order by updated_at asc
limit ?;
`

// Arguments: lease deadline, now, prediction id, now.
const QSQLiteClaimMaterialization = `--sql 00d13547-8cc4-4c0d-955e-fcce9de2af0d
update generations
set claimed_until = ?,
    updated_at = ?
where prediction_id = ?
  and status not in ('completed', 'failed', 'canceled')
  and (claimed_until is null or claimed_until < ?);
`

const QSQLiteReleaseClaim = `--sql c303b2ff-72f2-4f21-bf78-408f8ec2adc1
update generations
set claimed_until = null
where prediction_id = ?
  and status not in ('completed', 'failed', 'canceled');
`

// Arguments: status, storage_path, public_url, byte_size, mime_type,
// error_detail, metadata patch, at, prediction id.
const QSQLiteTransitionGeneration = `--sql fe7fc403-3a92-4992-a4d0-f2c8f3935207
update generations
set status       = ?1,
    storage_path = coalesce(?2, storage_path),
    public_url   = coalesce(?3, public_url),
    byte_size    = coalesce(?4, byte_size),
    mime_type    = coalesce(?5, mime_type),
    error_detail = coalesce(?6, error_detail),
    metadata     = json_patch(metadata, coalesce(?7, '{}')),
    started_at   = case when ?1 = 'processing' and started_at is null then ?8 else started_at end,
    completed_at = case when ?1 in ('completed', 'failed', 'canceled') then ?8 else completed_at end,
    claimed_until = case when ?1 in ('completed', 'failed', 'canceled') then null else claimed_until end,
    updated_at   = ?8
where prediction_id = ?9
  and status not in ('completed', 'failed', 'canceled');
`

const QSQLiteSelectGenerationStatus = `--sql 07c634d9-08ab-493f-b1ce-209ba878f2d1
select status
from generations
where prediction_id = ?;
`

const QSQLiteDeleteGeneration = `--sql eae0fc84-01f4-4255-af19-796b079e4b29
delete from generations
where id = ?;
`
