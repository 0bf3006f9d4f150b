package sqlinline

// SQLite variants of the generation statements. Timestamps are unix
// milliseconds and arrays are JSON text.

const QLiteInsertGeneration = `--sql c7b5df74-32da-41e9-9d56-287c42a4e9d1
INSERT INTO generations (
    id, user_id, job_id, status, prompt, operation_type,
    image_urls, thumbnail_urls, storage_keys, error_message,
    created_at, updated_at
)
VALUES (?1, ?2, ?3, ?4, ?5, ?6, COALESCE(?7, '[]'), '[]', '[]', ?8, ?9, ?9);
`

const QLiteInsertVideoGeneration = `--sql c1e3288d-5410-4162-b02f-87440aa6567e
INSERT INTO video_generations (
    id, user_id, job_id, status, prompt, operation_type,
    video_url, storage_keys, error_message,
    created_at, updated_at
)
VALUES (?1, ?2, ?3, ?4, ?5, ?6, json_extract(?7, '$[0]'), '[]', ?8, ?9, ?9);
`

const QLiteSelectGenerationByID = `--sql 3af70610-42da-4ae6-b5c0-4e62edc99d11
SELECT id, user_id, job_id, status, prompt, operation_type,
       image_urls, thumbnail_urls, storage_provider, storage_bucket, storage_keys,
       error_message, processing_time_ms, created_at, completed_at, updated_at
FROM generations
WHERE id = ?1;
`

const QLiteSelectVideoGenerationByID = `--sql a5df2690-431a-48d0-a777-0903b05cb24a
SELECT id, user_id, job_id, status, prompt, operation_type,
       CASE WHEN COALESCE(video_url, '') = '' THEN '[]' ELSE json_array(video_url) END,
       CASE WHEN COALESCE(thumbnail_url, '') = '' THEN '[]' ELSE json_array(thumbnail_url) END,
       storage_provider, storage_bucket, storage_keys,
       error_message, processing_time_ms, created_at, completed_at, updated_at
FROM video_generations
WHERE id = ?1;
`

const QLiteAttachGenerationJob = `--sql 6b1b5481-e759-4455-b0a9-cd9be8677847
UPDATE generations
SET job_id = ?2, status = 'PROCESSING', updated_at = ?3
WHERE id = ?1 AND COALESCE(job_id, '') = '' AND status = 'PENDING';
`

const QLiteAttachVideoGenerationJob = `--sql c7425b3f-4a02-43ea-92b9-2477e18efbd0
UPDATE video_generations
SET job_id = ?2, status = 'PROCESSING', updated_at = ?3
WHERE id = ?1 AND COALESCE(job_id, '') = '' AND status = 'PENDING';
`

const QLiteSelectStaleGenerations = `--sql 928080eb-3ed7-4f34-8972-ca1a1d533e89
SELECT id, user_id, job_id, status, prompt, operation_type,
       image_urls, thumbnail_urls, storage_provider, storage_bucket, storage_keys,
       error_message, processing_time_ms, created_at, completed_at, updated_at
FROM generations
WHERE user_id = ?1
  AND status IN ('PENDING', 'PROCESSING')
  AND COALESCE(job_id, '') <> ''
  AND created_at <= ?2
ORDER BY created_at ASC
LIMIT 200;
`

const QLiteSelectStaleVideoGenerations = `--sql 94e5acea-f948-45d3-b7f6-915962a968b3
SELECT id, user_id, job_id, status, prompt, operation_type,
       CASE WHEN COALESCE(video_url, '') = '' THEN '[]' ELSE json_array(video_url) END,
       CASE WHEN COALESCE(thumbnail_url, '') = '' THEN '[]' ELSE json_array(thumbnail_url) END,
       storage_provider, storage_bucket, storage_keys,
       error_message, processing_time_ms, created_at, completed_at, updated_at
FROM video_generations
WHERE user_id = ?1
  AND status IN ('PENDING', 'PROCESSING')
  AND COALESCE(job_id, '') <> ''
  AND created_at <= ?2
ORDER BY created_at ASC
LIMIT 200;
`

const QLiteSelectCompletedMissingMedia = `--sql 97510106-d301-450a-a716-b16325deac02
SELECT id, user_id, job_id, status, prompt, operation_type,
       image_urls, thumbnail_urls, storage_provider, storage_bucket, storage_keys,
       error_message, processing_time_ms, created_at, completed_at, updated_at
FROM generations
WHERE user_id = ?1
  AND status = 'COMPLETED'
  AND COALESCE(job_id, '') <> ''
  AND json_array_length(COALESCE(image_urls, '[]')) = 0
ORDER BY created_at ASC
LIMIT 200;
`

const QLiteSelectVideoCompletedMissingMedia = `--sql efce5323-6484-4ae5-84b6-3d78d472e54c
SELECT id, user_id, job_id, status, prompt, operation_type,
       '[]',
       CASE WHEN COALESCE(thumbnail_url, '') = '' THEN '[]' ELSE json_array(thumbnail_url) END,
       storage_provider, storage_bucket, storage_keys,
       error_message, processing_time_ms, created_at, completed_at, updated_at
FROM video_generations
WHERE user_id = ?1
  AND status = 'COMPLETED'
  AND COALESCE(job_id, '') <> ''
  AND COALESCE(video_url, '') = ''
ORDER BY created_at ASC
LIMIT 200;
`

const QLiteSelectUnmigratedGenerations = `--sql a6d2f3c8-91e4-4b7a-8f05-2c3e7b1d9e46
SELECT id, user_id, job_id, status, prompt, operation_type,
       image_urls, thumbnail_urls, storage_provider, storage_bucket, storage_keys,
       error_message, processing_time_ms, created_at, completed_at, updated_at
FROM generations
WHERE status = 'COMPLETED'
  AND storage_provider IS NULL
  AND json_array_length(COALESCE(image_urls, '[]')) > 0
  AND (?1 = '' OR user_id = ?1)
ORDER BY migration_attempted_at ASC NULLS FIRST, created_at ASC
LIMIT ?2;
`

const QLiteSelectUnmigratedVideoGenerations = `--sql 5e07b9a1-c4d8-4f62-9a3b-8d1f0e6c2b57
SELECT id, user_id, job_id, status, prompt, operation_type,
       json_array(video_url),
       CASE WHEN COALESCE(thumbnail_url, '') = '' THEN '[]' ELSE json_array(thumbnail_url) END,
       storage_provider, storage_bucket, storage_keys,
       error_message, processing_time_ms, created_at, completed_at, updated_at
FROM video_generations
WHERE status = 'COMPLETED'
  AND storage_provider IS NULL
  AND COALESCE(video_url, '') <> ''
  AND (?1 = '' OR user_id = ?1)
ORDER BY migration_attempted_at ASC NULLS FIRST, created_at ASC
LIMIT ?2;
`

const QLiteUpdateGeneration = `--sql 122ea3e9-2e7c-4144-927b-fbbfacb462cd
UPDATE generations
SET status = COALESCE(?3, status),
    image_urls = COALESCE(?4, image_urls),
    thumbnail_urls = COALESCE(?5, thumbnail_urls),
    storage_provider = COALESCE(?6, storage_provider),
    storage_bucket = COALESCE(?7, storage_bucket),
    storage_keys = COALESCE(?8, storage_keys),
    error_message = CASE WHEN ?10 THEN NULL ELSE COALESCE(?9, error_message) END,
    processing_time_ms = CASE WHEN completed_at IS NULL THEN COALESCE(?12, processing_time_ms) ELSE processing_time_ms END,
    completed_at = COALESCE(completed_at, ?11),
    updated_at = ?14
WHERE id = ?1
  AND (?2 IS NULL OR status = ?2)
  AND (NOT ?13 OR storage_provider IS NULL);
`

const QLiteUpdateVideoGeneration = `--sql 45d176c5-93aa-401c-b1cf-6c48c1b75810
UPDATE video_generations
SET status = COALESCE(?3, status),
    video_url = COALESCE(json_extract(?4, '$[0]'), video_url),
    thumbnail_url = COALESCE(json_extract(?5, '$[0]'), thumbnail_url),
    storage_provider = COALESCE(?6, storage_provider),
    storage_bucket = COALESCE(?7, storage_bucket),
    storage_keys = COALESCE(?8, storage_keys),
    error_message = CASE WHEN ?10 THEN NULL ELSE COALESCE(?9, error_message) END,
    processing_time_ms = CASE WHEN completed_at IS NULL THEN COALESCE(?12, processing_time_ms) ELSE processing_time_ms END,
    completed_at = COALESCE(completed_at, ?11),
    updated_at = ?14
WHERE id = ?1
  AND (?2 IS NULL OR status = ?2)
  AND (NOT ?13 OR storage_provider IS NULL);
`

const QLiteMarkGenerationMigrationAttempt = `--sql 0d6f8a2e-b5c3-4e17-9f48-a1c9e3b7d520
UPDATE generations
SET migration_attempted_at = ?2,
    migration_attempts = migration_attempts + 1
WHERE id = ?1
  AND storage_provider IS NULL;
`

const QLiteMarkVideoGenerationMigrationAttempt = `--sql 8c3a5e91-2d7f-4b06-a4e8-f6b1d0c97a38
UPDATE video_generations
SET migration_attempted_at = ?2,
    migration_attempts = migration_attempts + 1
WHERE id = ?1
  AND storage_provider IS NULL;
`
