package sqlinline

const QSelectIntegrationToken = `--sql 5e0b7a3c-2d41-4c8e-9f16-0b7d3e9a4c21
select token
from integration_tokens
where provider = $1::text;
`

const QUpsertIntegrationToken = `--sql a4f29c18-6b3e-4d7a-8c05-e1f6b2d9370f
insert into integration_tokens (id, provider, token, properties)
values ($1::uuid, $2::text, $3::text, coalesce($4::jsonb, '{}'::jsonb))
on conflict (provider) do update
set token = excluded.token,
    properties = excluded.properties,
    updated_at = now();
`
