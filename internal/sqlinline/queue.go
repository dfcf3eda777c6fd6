package sqlinline

const QCreateQueueSchema = `--sql 74c61b13-9670-4cdf-83e9-fa3f7e33eaca
create table if not exists analysis_queue (
    id uuid primary key,
    filename text not null,
    status text not null default 'pending',
    mime_type text not null default '',
    image_url text not null default '',
    storage_key text not null default '',
    image_data bytea,
    settings jsonb not null default '{}'::jsonb,
    locale text not null default '',
    result jsonb,
    error text not null default '',
    attempts int not null default 0,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);
create index if not exists analysis_queue_status_created_idx on analysis_queue (status, created_at);
create table if not exists integration_tokens (
    id uuid primary key,
    provider text not null unique,
    token text not null,
    properties jsonb not null default '{}'::jsonb,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);
`

const QInsertQueueItem = `--sql fc852362-1af9-4cb5-a312-876c130fa950
insert into analysis_queue (id, filename, status, mime_type, image_url, storage_key, image_data, settings, locale, attempts, created_at, updated_at)
values ($1::uuid, $2::text, $3::text, $4::text, $5::text, $6::text, $7::bytea, $8::jsonb, $9::text, 0, $10::timestamptz, $10::timestamptz);
`

const QSelectQueueItem = `--sql 6c18762b-0966-43de-8171-3e987b60d7e4
select id::text, filename, status, mime_type, image_url, storage_key, settings, locale, result, error, attempts, created_at, updated_at
from analysis_queue
where id = $1::uuid;
`

const QListQueueItems = `--sql 87c74f5f-a451-466e-a87b-9ced39339f2d
select id::text, filename, status, mime_type, image_url, storage_key, settings, locale, result, error, attempts, created_at, updated_at
from analysis_queue
order by created_at asc, id asc;
`

const QClaimQueueItem = `--sql 3b0d54b3-50cd-44da-9a32-06f4ef536344
with next_item as (
    select id
    from analysis_queue
    where status = 'pending'
    order by created_at asc
    for update skip locked
    limit 1
),
updated as (
    update analysis_queue
    set status = 'uploading', attempts = attempts + 1, updated_at = now()
    where id in (select id from next_item)
    returning id::text, filename, status, mime_type, image_url, storage_key, image_data, settings, locale, result, error, attempts, created_at, updated_at
)
select * from updated;
`

const QUpdateQueueItem = `--sql 1b0cf9af-467d-4b81-a58e-0e10ac2da54f
update analysis_queue
set status = $2::text,
    image_url = $3::text,
    storage_key = $4::text,
    result = $5::jsonb,
    error = $6::text,
    image_data = case when $7::boolean then null else image_data end,
    updated_at = now()
where id = $1::uuid;
`

const QDeleteQueueItem = `--sql fbec98e4-3917-43af-b2fb-9b90571fc02d
delete from analysis_queue
where id = $1::uuid;
`

const QResetFailedQueueItems = `--sql c0ecc90c-2892-4495-8d8a-e7e9b41e7f58
update analysis_queue
set status = 'pending', error = '', updated_at = now()
where status = 'error';
`
