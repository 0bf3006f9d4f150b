package sqlinline

// Photo generations live in "generations" with an image_urls array; video
// generations live in "video_generations" with a single video_url. Both
// select lists project media and thumbnails as text[] so one scanner reads
// either table.

const QInsertGeneration = `--sql 500844a2-4bcf-4869-a4ff-6b93e7a3f00c
insert into generations (
    id, user_id, job_id, status, prompt, operation_type,
    image_urls, thumbnail_urls, storage_keys, error_message,
    created_at, updated_at
)
values (
    $1::text, $2::text, $3::text, $4::text, $5::text, $6::text,
    coalesce($7::text[], '{}'::text[]), '{}'::text[], '{}'::text[], $8::text,
    $9::timestamptz, $9::timestamptz
);
`

const QInsertVideoGeneration = `--sql b55383fd-56e7-4721-918c-978346701d95
insert into video_generations (
    id, user_id, job_id, status, prompt, operation_type,
    video_url, storage_keys, error_message,
    created_at, updated_at
)
values (
    $1::text, $2::text, $3::text, $4::text, $5::text, $6::text,
    ($7::text[])[1], '{}'::text[], $8::text,
    $9::timestamptz, $9::timestamptz
);
`

const QSelectGenerationByID = `--sql c3e6f80b-8565-4246-b55c-c0b50b4ab84b
select id, user_id, job_id, status, prompt, operation_type,
       coalesce(image_urls, '{}'::text[]),
       coalesce(thumbnail_urls, '{}'::text[]),
       storage_provider, storage_bucket,
       coalesce(storage_keys, '{}'::text[]),
       error_message, processing_time_ms, created_at, completed_at, updated_at
from generations
where id = $1::text;
`

const QSelectVideoGenerationByID = `--sql 78bce371-ee87-47e8-8891-4e344b2d72b0
select id, user_id, job_id, status, prompt, operation_type,
       array_remove(array[nullif(video_url, '')], null),
       array_remove(array[nullif(thumbnail_url, '')], null),
       storage_provider, storage_bucket,
       coalesce(storage_keys, '{}'::text[]),
       error_message, processing_time_ms, created_at, completed_at, updated_at
from video_generations
where id = $1::text;
`

const QAttachGenerationJob = `--sql a13f9395-892f-4c04-83dc-464ec0f39c84
update generations
set job_id = $2::text,
    status = 'PROCESSING',
    updated_at = $3::timestamptz
where id = $1::text
  and coalesce(job_id, '') = ''
  and status = 'PENDING';
`

const QAttachVideoGenerationJob = `--sql 3ed3fbf4-4761-49b8-8b6f-e9f6ee704d91
update video_generations
set job_id = $2::text,
    status = 'PROCESSING',
    updated_at = $3::timestamptz
where id = $1::text
  and coalesce(job_id, '') = ''
  and status = 'PENDING';
`

const QSelectStaleGenerations = `--sql 389b67c5-5c14-4b92-a046-d26fb9c116e4
select id, user_id, job_id, status, prompt, operation_type,
       coalesce(image_urls, '{}'::text[]),
       coalesce(thumbnail_urls, '{}'::text[]),
       storage_provider, storage_bucket,
       coalesce(storage_keys, '{}'::text[]),
       error_message, processing_time_ms, created_at, completed_at, updated_at
from generations
where user_id = $1::text
  and status in ('PENDING', 'PROCESSING')
  and coalesce(job_id, '') <> ''
  and created_at <= $2::timestamptz
order by created_at asc
limit 200;
`

const QSelectStaleVideoGenerations = `--sql 23828f6b-fdf4-44b6-915a-7edad7c77ff7
select id, user_id, job_id, status, prompt, operation_type,
       array_remove(array[nullif(video_url, '')], null),
       array_remove(array[nullif(thumbnail_url, '')], null),
       storage_provider, storage_bucket,
       coalesce(storage_keys, '{}'::text[]),
       error_message, processing_time_ms, created_at, completed_at, updated_at
from video_generations
where user_id = $1::text
  and status in ('PENDING', 'PROCESSING')
  and coalesce(job_id, '') <> ''
  and created_at <= $2::timestamptz
order by created_at asc
limit 200;
`

const QSelectCompletedMissingMedia = `--sql 3c51c882-7ce1-47e1-b5bd-a78a80e53fbf
select id, user_id, job_id, status, prompt, operation_type,
       coalesce(image_urls, '{}'::text[]),
       coalesce(thumbnail_urls, '{}'::text[]),
       storage_provider, storage_bucket,
       coalesce(storage_keys, '{}'::text[]),
       error_message, processing_time_ms, created_at, completed_at, updated_at
from generations
where user_id = $1::text
  and status = 'COMPLETED'
  and coalesce(job_id, '') <> ''
  and coalesce(cardinality(image_urls), 0) = 0
order by created_at asc
limit 200;
`

const QSelectVideoCompletedMissingMedia = `--sql 05dd268b-9c61-4884-9df4-643cae27ddb2
select id, user_id, job_id, status, prompt, operation_type,
       array_remove(array[nullif(video_url, '')], null),
       array_remove(array[nullif(thumbnail_url, '')], null),
       storage_provider, storage_bucket,
       coalesce(storage_keys, '{}'::text[]),
       error_message, processing_time_ms, created_at, completed_at, updated_at
from video_generations
where user_id = $1::text
  and status = 'COMPLETED'
  and coalesce(job_id, '') <> ''
  and coalesce(video_url, '') = ''
order by created_at asc
limit 200;
`

// QSelectUnmigratedGenerations puts records never attempted first, then the
// ones whose last failed attempt is oldest.
const QSelectUnmigratedGenerations = `--sql 7f0c2b9e-3d41-4a8e-9c55-1e6b2f8a4d10
select id, user_id, job_id, status, prompt, operation_type,
       coalesce(image_urls, '{}'::text[]),
       coalesce(thumbnail_urls, '{}'::text[]),
       storage_provider, storage_bucket,
       coalesce(storage_keys, '{}'::text[]),
       error_message, processing_time_ms, created_at, completed_at, updated_at
from generations
where status = 'COMPLETED'
  and storage_provider is null
  and coalesce(cardinality(image_urls), 0) > 0
  and ($1::text = '' or user_id = $1::text)
order by migration_attempted_at asc nulls first, created_at asc
limit $2::int;
`

const QSelectUnmigratedVideoGenerations = `--sql c4a91e27-58b3-4f0d-8e62-9b17d3f6a205
select id, user_id, job_id, status, prompt, operation_type,
       array_remove(array[nullif(video_url, '')], null),
       array_remove(array[nullif(thumbnail_url, '')], null),
       storage_provider, storage_bucket,
       coalesce(storage_keys, '{}'::text[]),
       error_message, processing_time_ms, created_at, completed_at, updated_at
from video_generations
where status = 'COMPLETED'
  and storage_provider is null
  and coalesce(video_url, '') <> ''
  and ($1::text = '' or user_id = $1::text)
order by migration_attempted_at asc nulls first, created_at asc
limit $2::int;
`

// QUpdateGeneration applies a GenerationPatch in one statement. Null
// arguments leave columns untouched; completed_at and processing_time_ms are
// only ever written once. $2 and $13 are the optimistic guards.
const QUpdateGeneration = `--sql e4662b06-6bcb-454a-959a-ce619ae32557
update generations
set status = coalesce($3::text, status),
    image_urls = coalesce($4::text[], image_urls),
    thumbnail_urls = coalesce($5::text[], thumbnail_urls),
    storage_provider = coalesce($6::text, storage_provider),
    storage_bucket = coalesce($7::text, storage_bucket),
    storage_keys = coalesce($8::text[], storage_keys),
    error_message = case when $10::boolean then null else coalesce($9::text, error_message) end,
    processing_time_ms = case when completed_at is null then coalesce($12::bigint, processing_time_ms) else processing_time_ms end,
    completed_at = coalesce(completed_at, $11::timestamptz),
    updated_at = $14::timestamptz
where id = $1::text
  and ($2::text is null or status = $2::text)
  and (not $13::boolean or storage_provider is null);
`

const QUpdateVideoGeneration = `--sql b191ee32-49d5-4d6e-9a12-dfc231ba9793
update video_generations
set status = coalesce($3::text, status),
    video_url = coalesce(($4::text[])[1], video_url),
    thumbnail_url = coalesce(($5::text[])[1], thumbnail_url),
    storage_provider = coalesce($6::text, storage_provider),
    storage_bucket = coalesce($7::text, storage_bucket),
    storage_keys = coalesce($8::text[], storage_keys),
    error_message = case when $10::boolean then null else coalesce($9::text, error_message) end,
    processing_time_ms = case when completed_at is null then coalesce($12::bigint, processing_time_ms) else processing_time_ms end,
    completed_at = coalesce(completed_at, $11::timestamptz),
    updated_at = $14::timestamptz
where id = $1::text
  and ($2::text is null or status = $2::text)
  and (not $13::boolean or storage_provider is null);
`

// QMarkGenerationMigrationAttempt stamps a failed migration attempt so the
// record moves behind untried ones in the next sweep.
const QMarkGenerationMigrationAttempt = `--sql 3b8e6d52-0f7a-4c19-a2d4-6e9f1c7b8a33
update generations
set migration_attempted_at = $2::timestamptz,
    migration_attempts = migration_attempts + 1
where id = $1::text
  and storage_provider is null;
`

const QMarkVideoGenerationMigrationAttempt = `--sql e91d4f07-6a2c-4b85-b3e1-0c58a7d29f64
update video_generations
set migration_attempted_at = $2::timestamptz,
    migration_attempts = migration_attempts + 1
where id = $1::text
  and storage_provider is null;
`
