package sqlite

const (
	jobColumns = `
        id, status, stage, source_kind, source_url, locator,
        language, engine, enrich, title, duration_seconds,
        parent_crawl_id, error, error_kind, version, created_at, updated_at
    `

	insertJobQuery = `
        INSERT INTO jobs (` + jobColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `

	getJobQuery = `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`

	updateJobQuery = `
        UPDATE jobs SET
            status = ?,
            stage = ?,
            locator = ?,
            language = ?,
            engine = ?,
            enrich = ?,
            title = ?,
            duration_seconds = ?,
            error = ?,
            error_kind = ?,
            version = version + 1,
            updated_at = ?
        WHERE id = ? AND version = ?
    `

	deleteJobQuery = `DELETE FROM jobs WHERE id = ?`

	jobExistsQuery = `SELECT 1 FROM jobs WHERE id = ?`

	listJobsByCrawlQuery = `
        SELECT ` + jobColumns + ` FROM jobs
        WHERE parent_crawl_id = ?
        ORDER BY created_at, id
    `

	countJobsByCrawlQuery = `SELECT COUNT(*) FROM jobs WHERE parent_crawl_id = ?`

	getStaleJobsQuery = `
        SELECT ` + jobColumns + ` FROM jobs
        WHERE status = ? AND updated_at < ?
        ORDER BY updated_at
    `

	upsertDetailQuery = `
        INSERT INTO job_details (
            job_id, id, formatted_text, segments, language, word_count,
            processing_seconds, confidence, dialogue, image_prompt,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(job_id) DO UPDATE SET
            formatted_text = excluded.formatted_text,
            segments = excluded.segments,
            language = excluded.language,
            word_count = excluded.word_count,
            processing_seconds = excluded.processing_seconds,
            confidence = excluded.confidence,
            dialogue = excluded.dialogue,
            image_prompt = excluded.image_prompt,
            updated_at = excluded.updated_at
    `

	getDetailQuery = `
        SELECT job_id, id, formatted_text, segments, language, word_count,
               processing_seconds, confidence, dialogue, image_prompt,
               created_at, updated_at
        FROM job_details WHERE job_id = ?
    `

	insertImageQuery = `
        INSERT INTO job_images (
            id, job_id, image_type, file_key, mime_type, file_size,
            width, height, description, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `

	listImagesQuery = `
        SELECT id, job_id, image_type, file_key, mime_type, file_size,
               width, height, description, created_at
        FROM job_images WHERE job_id = ?
        ORDER BY created_at, id
    `

	deleteImagesQuery = `DELETE FROM job_images WHERE job_id = ? AND image_type = ?`

	crawlColumns = `
        id, channel_url, language, engine, max_videos, video_type,
        total_videos_found, total_jobs_created, status, error,
        version, created_at, updated_at
    `

	insertCrawlQuery = `
        INSERT INTO crawls (` + crawlColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `

	getCrawlQuery = `SELECT ` + crawlColumns + ` FROM crawls WHERE id = ?`

	updateCrawlQuery = `
        UPDATE crawls SET
            total_videos_found = ?,
            total_jobs_created = ?,
            status = ?,
            error = ?,
            version = version + 1,
            updated_at = ?
        WHERE id = ? AND version = ?
    `

	crawlExistsQuery = `SELECT 1 FROM crawls WHERE id = ?`
)
