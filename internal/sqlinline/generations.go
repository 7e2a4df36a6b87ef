package sqlinline

// QEnsureGenerationsSchema creates the ledger table. The unique index on
// prediction_id keeps the ledger record and the provider job 1:1.
const QEnsureGenerationsSchema = `--sql b91671f2-e3aa-46f6-b617-0b46c1275f0f
create table if not exists generations (
    id            uuid primary key,
    prediction_id text not null,
    owner_id      text not null,
    kind          text not null,
    model         text not null,
    status        text not null default 'pending',
    input         jsonb not null default '{}'::jsonb,
    metadata      jsonb not null default '{}'::jsonb,
    storage_path  text,
    public_url    text,
    byte_size     bigint,
    mime_type     text,
    error_detail  text,
    claimed_until timestamptz,
    created_at    timestamptz not null default now(),
    started_at    timestamptz,
    completed_at  timestamptz,
    updated_at    timestamptz not null default now()
);
create unique index if not exists generations_prediction_id_key on generations (prediction_id);
create index if not exists generations_owner_created_idx on generations (owner_id, created_at desc);
create index if not exists generations_open_updated_idx on generations (updated_at)
    where status in ('pending', 'processing');
`

const QInsertGeneration = `--sql 85a94ee4-9278-491a-a018-cde1de4f6ff7
insert into generations (id, prediction_id, owner_id, kind, model, status, input, metadata, created_at, updated_at)
values ($1::uuid, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9, $9);
`

const QSelectGenerationByID = `--sql f5422155-ce90-4aba-ae00-86a2281dae47
select id::text, prediction_id, owner_id, kind, model, status, input, metadata,
       storage_path, public_url, byte_size, mime_type, error_detail,
       created_at, started_at, completed_at, updated_at
from generations
where id = $1::uuid;
`

const QSelectGenerationByPrediction = `--sql db450d36-f022-4771-9d90-29f69ba1c229
select id::text, prediction_id, owner_id, kind, model, status, input, metadata,
       storage_path, public_url, byte_size, mime_type, error_detail,
       created_at, started_at, completed_at, updated_at
from generations
where prediction_id = $1;
`

const QListGenerationsByOwner = `--sql e29efc66-c16c-4b2c-9bdb-92ddaae8ffcc
select id::text, prediction_id, owner_id, kind, model, status, input, metadata,
       storage_path, public_url, byte_size, mime_type, error_detail,
       created_at, started_at, completed_at, updated_at
from generations
where owner_id = $1
order by created_at desc
limit $2;
`

const QListCompletedGenerationsByOwner = `--sql d4aa570e-69b7-4d64-8c17-bcc32c32eb36
select id::text, prediction_id, owner_id, kind, model, status, input, metadata,
       storage_path, public_url, byte_size, mime_type, error_detail,
       created_at, started_at, completed_at, updated_at
from generations
where owner_id = $1
  and status = 'completed'
order by created_at desc
limit $2;
`

const QListStaleGenerations = `--sql 1d7e8e18-660c-4958-90d9-ad224fe85f39
select id::text, prediction_id, owner_id, kind, model, status, input, metadata,
       storage_path, public_url, byte_size, mime_type, error_detail,
       created_at, started_at, completed_at, updated_at
from generations
where status in ('pending', 'processing')
  and updated_at < $1
order by updated_at asc
limit $2;
`

// QClaimMaterialization leases a non-terminal record for one materializer.
// No row returned means the record is terminal, already leased, or missing.
const QClaimMaterialization = `--sql 3306fec2-0d6a-42f9-acc6-7c6310f4a3a7
update generations
set claimed_until = now() + make_interval(secs => $2::double precision),
    updated_at = now()
where prediction_id = $1
  and status not in ('completed', 'failed', 'canceled')
  and (claimed_until is null or claimed_until < now())
returning id::text, prediction_id, owner_id, kind, model, status, input, metadata,
          storage_path, public_url, byte_size, mime_type, error_detail,
          created_at, started_at, completed_at, updated_at;
`

// QReleaseClaim drops the lease so the next delivery can materialize.
const QReleaseClaim = `--sql 03e5fac1-ae34-4da5-981b-6be08ede07a3
update generations
set claimed_until = null
where prediction_id = $1
  and status not in ('completed', 'failed', 'canceled');
`

// QTransitionGeneration applies a status change only while the record is
// not terminal. Metadata is merged, never replaced. A live claim survives
// non-terminal writes.
const QTransitionGeneration = `--sql e42f27c4-1783-4d0f-a8f4-47d0294fd20b
update generations
set status       = $2::text,
    storage_path = coalesce($3::text, storage_path),
    public_url   = coalesce($4::text, public_url),
    byte_size    = coalesce($5::bigint, byte_size),
    mime_type    = coalesce($6::text, mime_type),
    error_detail = coalesce($7::text, error_detail),
    metadata     = metadata || coalesce($8::jsonb, '{}'::jsonb),
    started_at   = case when $2::text = 'processing' and started_at is null then $9::timestamptz else started_at end,
    completed_at = case when $2::text in ('completed', 'failed', 'canceled') then $9::timestamptz else completed_at end,
    claimed_until = case when $2::text in ('completed', 'failed', 'canceled') then null else claimed_until end,
    updated_at   = $9::timestamptz
where prediction_id = $1
  and status not in ('completed', 'failed', 'canceled');
`

const QSelectGenerationStatus = `--sql 8bdb22b8-74db-446e-bac0-ef1e67d926f6
select status
from generations
where prediction_id = $1;
`

const QDeleteGeneration = `--sql 8087c9c6-073c-466c-ac75-090110a96583
delete from generations
where id = $1::uuid;
`
